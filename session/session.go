// Package session owns the browser side of a build run: Chrome lifecycle,
// login, Activity Builder navigation, and the live-DOM implementation of
// builder.Surface. All DOM reads are fresh evaluations; nothing holds element
// handles across calls.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// Config configures the browser session.
type Config struct {
	// BaseURL of the target application, e.g. "https://app.example.com".
	BaseURL string `yaml:"base_url"`
	// Email and Password for the sign-in form.
	Email    string `yaml:"email"`
	Password string `yaml:"password"`

	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string `yaml:"remote_url"`
	// Headful runs Chrome with a visible window.
	Headful bool `yaml:"headful"`

	// NavTimeout bounds page navigations. Default: 30s.
	NavTimeout time.Duration `yaml:"nav_timeout"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) applyDefaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session is one logged-in browser session driving one Activity Builder page.
// Not safe for concurrent use; the builder is a single actor.
type Session struct {
	cfg     Config
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page
	log     *slog.Logger

	// last pointer position, for wake nudges during a held gesture
	lastX, lastY float64
}

// Start launches (or connects to) Chrome and opens a stealth page. The page
// is blank until Login navigates somewhere.
func Start(ctx context.Context, cfg Config) (*Session, error) {
	cfg.applyDefaults()
	s := &Session{cfg: cfg, log: cfg.Logger}

	wsURL := cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(!cfg.Headful)
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("session: launch chrome: %w", err)
		}
		s.lnch = l
		wsURL = u
		s.log.Info("session: launched local chrome", "headful", cfg.Headful)
	} else {
		s.log.Info("session: connecting to remote chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("session: connect: %w", err)
	}
	s.browser = b

	page, err := stealth.Page(b)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("session: create page: %w", err)
	}
	s.page = page
	return s, nil
}

// Page exposes the underlying rod page for property writers.
func (s *Session) Page() *rod.Page { return s.page }

// Close shuts the page and Chrome down.
func (s *Session) Close() error {
	s.cleanup()
	return nil
}

func (s *Session) cleanup() {
	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	if s.browser != nil {
		_ = s.browser.Close()
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
		s.lnch = nil
	}
}

// navigate drives the page to url and waits for load under NavTimeout.
func (s *Session) navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	if err := s.page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("session: navigate %s: %w", url, err)
	}
	if err := s.page.Context(navCtx).WaitLoad(); err != nil {
		return fmt.Errorf("session: wait load %s: %w", url, err)
	}
	return nil
}

// Reload reloads the builder page and waits for it to settle. This is the
// Environment hook the recovery ladder calls during a hard resync.
func (s *Session) Reload(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	if err := s.page.Context(navCtx).Reload(); err != nil {
		return fmt.Errorf("session: reload: %w", err)
	}
	if err := s.page.Context(navCtx).WaitLoad(); err != nil {
		return fmt.Errorf("session: reload wait: %w", err)
	}
	// Turbo frames keep rendering after load; give the sidebar a beat.
	time.Sleep(500 * time.Millisecond)
	return nil
}

// evalStrings evaluates js and decodes a string-array result.
func (s *Session) evalStrings(ctx context.Context, js string, args ...any) ([]string, error) {
	res, err := s.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return nil, err
	}
	arr := res.Value.Arr()
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		out = append(out, v.Str())
	}
	return out, nil
}

// evalBool evaluates js and decodes a boolean result, false on error.
func (s *Session) evalBool(ctx context.Context, js string, args ...any) bool {
	res, err := s.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}
