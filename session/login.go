package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// login.go: credential sign-in and Activity Builder navigation.

// jsTemplateTitles lists the activity template titles on the templates page.
const jsTemplateTitles = `() => Array.from(
	document.querySelectorAll('.activity-templates__row .activity-templates__title, [data-activity-template-title]')
).map(el => (el.dataset.activityTemplateTitle || el.textContent || '').trim())`

// Login signs in through the credential form and verifies the session left
// the sign-in page.
func (s *Session) Login(ctx context.Context) error {
	signIn := s.cfg.BaseURL + "/users/sign_in"
	if err := s.navigate(ctx, signIn); err != nil {
		return err
	}
	formCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()

	email, err := s.page.Context(formCtx).Element(selLoginEmail)
	if err != nil {
		return fmt.Errorf("session: login email field: %w", err)
	}
	if err := email.Input(s.cfg.Email); err != nil {
		return fmt.Errorf("session: type email: %w", err)
	}
	password, err := s.page.Context(formCtx).Element(selLoginPassword)
	if err != nil {
		return fmt.Errorf("session: login password field: %w", err)
	}
	if err := password.Input(s.cfg.Password); err != nil {
		return fmt.Errorf("session: type password: %w", err)
	}
	submit, err := s.page.Context(formCtx).Element(selLoginSubmit)
	if err != nil {
		return fmt.Errorf("session: login submit: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("session: submit login: %w", err)
	}
	if err := s.page.Context(formCtx).WaitLoad(); err != nil {
		return fmt.Errorf("session: wait after login: %w", err)
	}

	info, err := s.page.Context(formCtx).Info()
	if err != nil {
		return fmt.Errorf("session: read page info: %w", err)
	}
	if strings.Contains(info.URL, "/sign_in") {
		return fmt.Errorf("session: login rejected for %s", s.cfg.Email)
	}
	s.log.Info("session: logged in", "email", s.cfg.Email)
	return nil
}

// OpenTemplates navigates to the activity templates page.
func (s *Session) OpenTemplates(ctx context.Context) error {
	return s.navigate(ctx, s.cfg.BaseURL+"/activity_templates")
}

// ActivityExists reports whether a template with exactly this title is
// already listed. Used for skip-existing behaviour; the templates page must
// be open.
func (s *Session) ActivityExists(ctx context.Context, title string) (bool, error) {
	want := strings.Join(strings.Fields(title), " ")
	titles, err := s.evalStrings(ctx, jsTemplateTitles)
	if err != nil {
		return false, fmt.Errorf("session: read template titles: %w", err)
	}
	for _, t := range titles {
		if strings.Join(strings.Fields(t), " ") == want {
			return true, nil
		}
	}
	return false, nil
}

// CreateActivity creates a new activity template and lands on its Activity
// Builder page. activityType is "assessment" or "form".
func (s *Session) CreateActivity(ctx context.Context, title, activityType string) error {
	newURL := fmt.Sprintf("%s/activity_templates/new?type=%s", s.cfg.BaseURL, url.QueryEscape(activityType))
	if err := s.navigate(ctx, newURL); err != nil {
		return err
	}
	formCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()

	titleInput, err := s.page.Context(formCtx).Element(`input[name="activity_template[name]"]`)
	if err != nil {
		return fmt.Errorf("session: activity title field: %w", err)
	}
	if err := titleInput.Input(title); err != nil {
		return fmt.Errorf("session: type activity title: %w", err)
	}
	submit, err := s.page.Context(formCtx).Element(selLoginSubmit)
	if err != nil {
		return fmt.Errorf("session: activity submit: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("session: submit activity: %w", err)
	}
	if err := s.page.Context(formCtx).WaitLoad(); err != nil {
		return fmt.Errorf("session: wait after activity create: %w", err)
	}
	return s.waitBuilderReady(ctx)
}

// waitBuilderReady waits until the designer sidebar has rendered.
func (s *Session) waitBuilderReady(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.NavTimeout)
	for {
		rows, err := s.readSections(ctx)
		if err == nil && len(rows) > 0 {
			s.log.Info("session: builder ready", "sections", len(rows))
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("session: builder sidebar never rendered")
		}
		if err := ctxSleep(ctx, 200*time.Millisecond); err != nil {
			return err
		}
	}
}
