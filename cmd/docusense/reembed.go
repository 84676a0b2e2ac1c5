package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/docusense"
)

func reembedCommand() *cli.Command {
	return &cli.Command{
		Name:  "reembed",
		Usage: "Re-embed every chunk of a collection with the configured embedding model",
		Flags: []cli.Flag{collectionFlag},
		Action: func(c *cli.Context) error {
			collection := c.String("collection")
			return withEngine(c, func(e *docusense.Engine) error {
				cfg := e.Config()
				fmt.Fprintf(c.App.ErrWriter, "Collection: %s\n", collection)
				fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", cfg.AI.EmbeddingModel)
				fmt.Fprintln(c.App.ErrWriter)

				if _, err := e.Reembed(c.Context, collection, c.App.ErrWriter); err != nil {
					return fmt.Errorf("reembedding failed: %w", err)
				}
				return nil
			})
		},
	}
}
