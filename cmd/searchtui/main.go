package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"

	"github.com/letmevibethatforyou/searchkit"
	"github.com/letmevibethatforyou/searchkit/internal/config"
)

func main() {
	app := &cli.App{
		Name:  "searchtui",
		Usage: "Search interactively as you type",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a searchkit YAML settings file",
				EnvVars: []string{"SEARCHKIT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Search service API key",
				EnvVars: []string{searchkit.EnvAPIKey},
			},
			&cli.StringFlag{
				Name:    "url",
				Usage:   "Search service base URL",
				EnvVars: []string{searchkit.EnvURL},
			},
			&cli.DurationFlag{
				Name:  "debounce",
				Usage: "Quiet period after typing before a query is sent",
			},
			&cli.StringFlag{
				Name:  "log",
				Usage: "Write logs to this file; the terminal is owned by the UI",
			},
		},
		Action: runAction,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func runAction(c *cli.Context) error {
	settings := config.Config{}
	settings.ApplyDefaults()
	if path := c.String("config"); path != "" {
		var err error
		if settings, err = config.Load(path); err != nil {
			return err
		}
	}

	logger, closeLog, err := openLog(c.String("log"), settings)
	if err != nil {
		return err
	}
	defer closeLog()

	transport, err := settings.Transport()
	if err != nil {
		return err
	}

	apiKey, url := c.String("api-key"), c.String("url")
	if apiKey == "" {
		apiKey = settings.Session.APIKey
	}
	if url == "" {
		url = settings.Session.URL
	}
	provider := searchkit.NewProvider(apiKey, url, append(settings.ClientOptions(),
		searchkit.WithTransport(transport),
		searchkit.WithLogger(logger),
	)...)
	defer provider.Close()
	if err := provider.Err(); err != nil {
		return err
	}

	ctrlOpts := settings.ControllerOptions()
	if d := c.Duration("debounce"); d > 0 {
		ctrlOpts = append(ctrlOpts, searchkit.WithDebounce(d))
	}
	return run(provider.Bind(c.Context), ctrlOpts)
}

func run(ctx context.Context, opts []searchkit.ControllerOption) error {
	controller, err := searchkit.NewController(ctx, opts...)
	if err != nil {
		return err
	}
	defer controller.Close()

	program := tea.NewProgram(newModel(controller), tea.WithContext(ctx))
	// Listeners run on the goroutine that changed the state, which is often
	// the program's own Update, so the send must not block it.
	unsubscribe := controller.Subscribe(func(s searchkit.SearchState) {
		go program.Send(stateMsg(s))
	})
	defer unsubscribe()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "search ui failed")
	}
	return nil
}

func openLog(path string, settings config.Config) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open log file %s", path)
	}
	level := slog.LevelInfo
	if settings.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(f, opts)
	if settings.Logging.Format == "json" {
		handler = slog.NewJSONHandler(f, opts)
	}
	return slog.New(handler), func() { _ = f.Close() }, nil
}
