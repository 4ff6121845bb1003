// Package tracker parses tracker command flags and starts the service.
package tracker

import (
	"context"
	"flag"
	"fmt"
	"strings"

	entrypoint "github.com/taskmirror/taskmirror/internal/platform/cmd"
	"github.com/taskmirror/taskmirror/internal/tracker/app"
)

// Config holds tracker command configuration.
type Config struct {
	Port       int    `env:"TASKMIRROR_PORT" envDefault:"8080"`
	Addr       string `env:"TASKMIRROR_ADDR"`
	DBPath     string `env:"TASKMIRROR_DB_PATH" envDefault:"taskmirror.db"`
	WebhookURL string `env:"TASKMIRROR_WEBHOOK_URL"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The tracker server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The tracker listen address (overrides -port)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the SQLite database file")
	fs.StringVar(&cfg.WebhookURL, "webhook-url", cfg.WebhookURL, "Chat webhook URL for notifications")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ListenAddr resolves the configured listen address.
func (c Config) ListenAddr() string {
	if strings.TrimSpace(c.Addr) != "" {
		return c.Addr
	}
	return fmt.Sprintf(":%d", c.Port)
}

// Run starts the tracker service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTracker, func(ctx context.Context) error {
		server, err := app.NewServer(app.Config{
			Addr:       cfg.ListenAddr(),
			DBPath:     cfg.DBPath,
			WebhookURL: cfg.WebhookURL,
		})
		if err != nil {
			return err
		}
		defer server.Close()
		return server.ListenAndServe(ctx)
	})
}
