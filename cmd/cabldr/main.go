// Command cabldr builds CloudAssess activity templates from instruction files
// by driving the Activity Builder through a real browser.
//
// Usage:
//
//	cabldr -config cabldr.yaml build.yaml            # build one instruction file
//	cabldr -config cabldr.yaml a.yaml b.json         # build several in order
//	cabldr -check build.yaml                         # validate instructions and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	_ "modernc.org/sqlite"

	"github.com/apknife1/cabldr/builder"
	"github.com/apknife1/cabldr/control"
	"github.com/apknife1/cabldr/idgen"
	"github.com/apknife1/cabldr/instruction"
	"github.com/apknife1/cabldr/report"
	"github.com/apknife1/cabldr/session"
)

type fileConfig struct {
	Session session.Config `yaml:"session"`
	Builder builder.Config `yaml:"builder"`
	Control control.Config `yaml:"control"`

	// RunsDir is where per-run report directories are created. Empty
	// disables reporting.
	RunsDir string `yaml:"runs_dir"`
}

func main() {
	configPath := flag.String("config", "", "path to cabldr.yaml config file")
	checkOnly := flag.Bool("check", false, "validate instruction files and exit")
	headful := flag.Bool("headful", false, "run Chrome with a visible window")
	skipExisting := flag.Bool("skip-existing", false, "skip activities whose template already exists")
	runsDir := flag.String("runs-dir", "", "report directory (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, flag.Args(), *checkOnly, *headful, *skipExisting, *runsDir); err != nil {
		logger.Error("cabldr: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, paths []string, checkOnly, headful, skipExisting bool, runsDir string) error {
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: cabldr [-config <file>] [-check] <instructions.yaml> ...")
		os.Exit(1)
	}

	specs := make([]*instruction.Spec, 0, len(paths))
	for _, p := range paths {
		spec, err := instruction.Load(p)
		if err != nil {
			return fmt.Errorf("instructions %s: %w", p, err)
		}
		specs = append(specs, spec)
	}
	if checkOnly {
		for _, spec := range specs {
			logger.Info("cabldr: instructions valid",
				"path", spec.SourcePath, "activities", len(spec.Activities))
		}
		return nil
	}

	if configPath == "" {
		return fmt.Errorf("building requires -config")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Session.Headful = cfg.Session.Headful || headful
	cfg.Control.SkipExisting = cfg.Control.SkipExisting || skipExisting
	cfg.Session.Logger = logger
	cfg.Builder.Logger = logger
	cfg.Control.Logger = logger
	if runsDir != "" {
		cfg.RunsDir = runsDir
	}

	var rep *report.Run
	if cfg.RunsDir != "" {
		rep, err = report.Open(cfg.RunsDir, idgen.NanoID(8)(), logger)
		if err != nil {
			return fmt.Errorf("open report: %w", err)
		}
		logger.Info("cabldr: run started", "id", rep.ID, "dir", rep.Dir)
	}
	status := "failed"
	defer func() {
		if rep != nil {
			if err := rep.Close(status); err != nil {
				logger.Warn("cabldr: report close failed", "error", err)
			}
		}
	}()

	sess, err := session.Start(ctx, cfg.Session)
	if err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	defer sess.Close()

	if err := sess.Login(ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	b := builder.New(sess, cfg.Builder)
	ctl := control.New(b, sess, sess, rep, cfg.Control)

	for _, spec := range specs {
		if err := ctl.Run(ctx, spec); err != nil {
			return fmt.Errorf("build %s: %w", spec.SourcePath, err)
		}
	}

	status = "completed"
	return nil
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}
