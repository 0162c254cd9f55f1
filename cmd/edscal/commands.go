package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli"

	"edscal/internal/backend"
	"edscal/internal/config"
	"edscal/internal/eds"
	"edscal/internal/extract"
	"edscal/internal/ics"
	appLog "edscal/internal/log"
	"edscal/internal/web"
)

// runner carries the root context into command actions.
type runner struct {
	ctx context.Context
}

func newApp(ctx context.Context) *cli.App {
	r := &runner{ctx: ctx}

	app := cli.NewApp()
	app.Name = "edscal"
	app.Usage = "Extract events from evolution-data-server calendars as JSON"
	app.Version = version
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:   "config",
			Usage:  "Path to the config file (.yaml or .toml)",
			Value:  config.DefaultPath(),
			EnvVar: "EDSCAL_CONFIG",
		},
		&cli.StringFlag{
			Name:   "log-level",
			Usage:  "debug, info, warn or error (overrides the config file)",
			EnvVar: "EDSCAL_LOG_LEVEL",
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "eds or ics (overrides the config file)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "events",
			Usage:     "Print events in [start, end) as a JSON array",
			ArgsUsage: "<start_unix_ts> <end_unix_ts>",
			Action:    r.events,
		},
		{
			Name:   "calendars",
			Usage:  "Print enabled calendars as a JSON array",
			Action: r.calendars,
		},
		{
			Name:   "check",
			Usage:  "Report whether the calendar backend is reachable",
			Action: r.check,
		},
		{
			Name:  "serve",
			Usage: "Serve events, calendars and status over HTTP",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "listen",
					Usage: "HTTP listen address (overrides the config file)",
				},
			},
			Action: r.serve,
		},
		{
			Name:  "config",
			Usage: "Manage the config file",
			Subcommands: []cli.Command{
				{
					Name:  "init",
					Usage: "Write the default config file",
					Flags: []cli.Flag{
						&cli.BoolFlag{
							Name:  "force",
							Usage: "Overwrite an existing file",
						},
					},
					Action: r.configInit,
				},
			},
		},
	}
	return app
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.GlobalString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	level := cfg.LogLevel
	if v := c.GlobalString("log-level"); v != "" {
		level = v
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	if v := strings.ToLower(strings.TrimSpace(c.GlobalString("backend"))); v != "" {
		if v != config.BackendEDS && v != config.BackendICS {
			return nil, fmt.Errorf("unknown backend %q", v)
		}
		cfg.Backend = v
	}
	appLog.Debug("effective config",
		"config_path", path,
		"backend", cfg.Backend,
		"connect_timeout", cfg.ConnectTimeout.String(),
		"expand_recurrences", cfg.ExpandRecurrences,
		"ics_count", len(cfg.ICS),
	)
	return cfg, nil
}

func normalizer(cfg *config.Config) ics.Normalizer {
	return ics.Normalizer{
		Local:     time.Local,
		Floating:  cfg.FloatingLocation(),
		AllDayUTC: cfg.AllDayUTC,
	}
}

// newBackend builds the configured backend. The returned func releases it.
func newBackend(cfg *config.Config) (backend.Backend, func()) {
	if cfg.Backend == config.BackendICS {
		feeds := make([]ics.Feed, 0, len(cfg.ICS))
		for _, src := range cfg.ICS {
			id := src.ID
			if id == "" {
				if src.Name != "" {
					id = src.Name
				} else {
					id = src.URL
				}
			}
			name := src.Name
			if name == "" {
				name = id
			}
			feeds = append(feeds, ics.Feed{ID: id, Name: name, URL: src.URL, Enabled: src.IsEnabled()})
		}
		return ics.NewFeedBackend(feeds, normalizer(cfg), cfg.MaxOccurrencesPerEvent), func() {}
	}

	b := eds.New(eds.Config{
		Address:         cfg.DBus.Address,
		SourcesService:  cfg.DBus.SourcesService,
		CalendarService: cfg.DBus.CalendarService,
		ConnectTimeout:  cfg.ConnectTimeout,
	})
	return b, func() {
		if err := b.Close(); err != nil {
			appLog.Debug("closing D-Bus connection failed", "err", err)
		}
	}
}

func newExtractor(cfg *config.Config, b backend.Backend) *extract.Extractor {
	return extract.New(b, extract.Options{
		Normalizer:             normalizer(cfg),
		ExpandRecurrences:      cfg.ExpandRecurrences,
		MaxOccurrencesPerEvent: cfg.MaxOccurrencesPerEvent,
		Skip:                   cfg.SkipCalendars,
	})
}

// parseRange reads the two positional unix timestamps of the events command.
func parseRange(args cli.Args) (time.Time, time.Time, error) {
	if len(args) != 2 {
		return time.Time{}, time.Time{}, errors.New("usage: edscal events <start_unix_ts> <end_unix_ts>")
	}
	start, err := strconv.ParseInt(args.Get(0), 10, 64)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start %q is not a unix timestamp", args.Get(0))
	}
	end, err := strconv.ParseInt(args.Get(1), 10, 64)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end %q is not a unix timestamp", args.Get(1))
	}
	if end < start {
		return time.Time{}, time.Time{}, fmt.Errorf("end %d is before start %d", end, start)
	}
	return time.Unix(start, 0), time.Unix(end, 0), nil
}

func (r *runner) events(c *cli.Context) error {
	start, end, err := parseRange(c.Args())
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	b, release := newBackend(cfg)
	defer release()

	records, err := newExtractor(cfg, b).Events(r.ctx, start, end)
	if err != nil {
		return err
	}
	return writeJSON(c, records)
}

func (r *runner) calendars(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	b, release := newBackend(cfg)
	defer release()

	cals, err := newExtractor(cfg, b).Calendars(r.ctx)
	if err != nil {
		return err
	}
	return writeJSON(c, cals)
}

// check always succeeds; an unreachable backend is part of the output.
func (r *runner) check(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		fmt.Fprintln(c.App.Writer, extract.Status{Reason: err.Error()})
		return nil
	}
	b, release := newBackend(cfg)
	defer release()

	fmt.Fprintln(c.App.Writer, newExtractor(cfg, b).Check(r.ctx))
	return nil
}

func (r *runner) serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if v := c.String("listen"); v != "" {
		cfg.Listen = v
	}
	b, release := newBackend(cfg)
	defer release()

	return web.NewServer(cfg, newExtractor(cfg, b)).ListenAndServe(r.ctx)
}

func (r *runner) configInit(c *cli.Context) error {
	path := c.GlobalString("config")
	if !c.Bool("force") {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := config.Save(path, config.DefaultConfig()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintln(c.App.Writer, path)
	return nil
}

func writeJSON(c *cli.Context, v any) error {
	return json.NewEncoder(c.App.Writer).Encode(v)
}
