package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iHildy/jules-wrapped/internal/collector"
	"github.com/iHildy/jules-wrapped/internal/config"
	"github.com/iHildy/jules-wrapped/internal/db"
	"github.com/iHildy/jules-wrapped/internal/metrics"
	"github.com/iHildy/jules-wrapped/internal/ratelimit"
)

var (
	warning = color.New(color.FgYellow, color.Bold)
	notice  = color.New(color.FgCyan)
	faint   = color.New(color.Faint)
	success = color.New(color.FgGreen)
)

func runStats(cmd *cobra.Command, out, errOut io.Writer) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.LogLevel, errOut)
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	year := cfg.Year
	if year == 0 {
		year = time.Now().In(loc).Year()
	}

	ctx := cmd.Context()
	if cfg.MetricsAddr != "" {
		if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
	}

	opts := collector.Options{
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.BaseURL,
		UseSampleData:     cfg.Sample,
		Offline:           cfg.Offline,
		Workers:           cfg.Workers,
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxPages:          cfg.MaxPages,
		MaxAttempts:       cfg.MaxAttempts,
		Location:          loc,
		Logger:            logger,
		Observer:          consoleObserver(errOut, logger),
		Progress: func(p collector.Progress) {
			logger.Debug().
				Str("phase", string(p.Phase)).
				Int("done", p.SessionsDone).
				Int("total", p.SessionsTotal).
				Msg("progress")
		},
	}

	if !cfg.Sample && (!cfg.NoCache || cfg.Offline) {
		cache, err := db.Open(cfg.DBPath)
		if err != nil {
			if cfg.Offline {
				return fmt.Errorf("opening cache: %w", err)
			}
			logger.Warn().Err(err).Msg("cache unavailable; continuing without it")
		} else {
			defer cache.Close()
			opts.Cache = cache
		}
	}
	if !cfg.Sample && !cfg.Offline && cfg.APIKey == "" {
		warning.Fprintf(errOut,
			"No API key configured; set %s or run \"wrapped auth <key>\".\n",
			config.EnvAPIKey,
		)
	}

	res, err := collector.Run(ctx, year, opts)
	if errors.Is(err, collector.ErrNoCache) {
		return fmt.Errorf("%w (cache: %s)", err, cfg.DBPath)
	}
	if err != nil {
		return err
	}

	if cfg.Format == config.FormatText {
		return writeText(out, res.Stats)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Stats)
}

// consoleObserver prints user-facing rate limit events.
func consoleObserver(w io.Writer, logger zerolog.Logger) ratelimit.Observer {
	return ratelimit.ObserverFunc(func(e ratelimit.Event) {
		switch e.Kind {
		case ratelimit.EventNotice:
			notice.Fprintln(w, e.Message)
		case ratelimit.EventRetry:
			faint.Fprintln(w, e.Message)
		case ratelimit.EventSleep:
			logger.Debug().
				Dur("wait", e.Wait).
				Int("count", e.Count).
				Msg("waiting for rate limit")
		case ratelimit.EventResume:
			logger.Debug().Msg("resumed after rate limit")
		}
	})
}

// setupLogger returns a console logger on w at the named level.
func setupLogger(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.Kitchen,
		NoColor:    color.NoColor,
	}).Level(lvl).With().Timestamp().Logger()
}
