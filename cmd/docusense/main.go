// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/docusense"
	"github.com/poiesic/docusense/config"
)

// openEngine builds the engine for a command. Tests replace it.
var openEngine = func(cfg *config.Config) (*docusense.Engine, error) {
	return docusense.NewEngine(cfg)
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var collectionFlag = &cli.StringFlag{
	Name:    "collection",
	Aliases: []string{"C"},
	Usage:   "Collection to work on",
	Value:   "default",
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "docusense",
		Usage: "Question answering over your documents with cited sources",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				EnvVars: []string{"DOCUSENSE_CONFIG"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			ingestCommand(),
			statusCommand(),
			retryCommand(),
			cancelCommand(),
			documentsCommand(),
			askCommand(),
			feedbackCommand(),
			reembedCommand(),
			serveCommand(),
		},
	}
}

// withEngine loads the configuration, opens the engine, runs fn and closes it.
func withEngine(c *cli.Context, fn func(e *docusense.Engine) error) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	engine, err := openEngine(cfg)
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			slog.Error("error closing engine", "error", err)
		}
	}()
	return fn(engine)
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
