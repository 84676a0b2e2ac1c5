package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/docusense"
	"github.com/poiesic/docusense/api"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the ingestion workers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides the configuration)",
			},
		},
		Action: func(c *cli.Context) error {
			return withEngine(c, func(e *docusense.Engine) error {
				addr := e.Config().Server.Addr
				if c.IsSet("addr") {
					addr = c.String("addr")
				}
				server := api.NewServer(e, addr, e.Config().Server.AskTimeout)

				errc := make(chan error, 1)
				go func() { errc <- server.Run() }()

				sigch := make(chan os.Signal, 1)
				signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(sigch)

				select {
				case err := <-errc:
					return fmt.Errorf("server failed: %w", err)
				case <-sigch:
				}

				ctx, cancel := context.WithTimeout(context.Background(), e.Config().Ingestion.ShutdownTimeout)
				defer cancel()
				return server.Shutdown(ctx)
			})
		},
	}
}
