package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"readerbot/internal/app"
	"readerbot/internal/chunker"
	"readerbot/internal/ingest"
	"readerbot/pkg/tgui"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: .env not loaded:", err)
	}

	cliApp := &cli.App{
		Name:    "readerbot",
		Usage:   "Deliver books to Telegram chats one fragment at a time",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (.json, .yaml)",
				Value:   "./config.yaml",
				EnvVars: []string{"READERBOT_CONFIG"},
			},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the bot (default)",
				Action: run,
			},
			{
				Name:      "split",
				Usage:     "Extract a document and print its fragments without storing anything",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "max-chars",
						Usage: "Fragment size in characters",
						Value: chunker.DefaultMaxChars,
					},
					&cli.BoolFlag{
						Name:  "full",
						Usage: "Print whole fragments instead of a preview line",
					},
				},
				Action: split,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(c.String("config"))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func split(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("split: FILE is required", 2)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	parts, err := ingest.Preview(filepath.Base(path), data, c.Int("max-chars"))
	if err != nil {
		return err
	}

	out := c.App.Writer
	fmt.Fprintf(out, "%s: %d fragments\n", filepath.Base(path), len(parts))
	for i, p := range parts {
		if c.Bool("full") {
			fmt.Fprintf(out, "\n--- %d/%d (%d chars) ---\n%s\n", i+1, len(parts), len([]rune(p)), p)
			continue
		}
		fmt.Fprintf(out, "%4d  %5d  %s\n", i+1, len([]rune(p)), tgui.TruncRunes(tgui.Headline(p), 60))
	}
	return nil
}

