package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/docusense"
	"github.com/poiesic/docusense/core"
)

func printJob(w io.Writer, job *core.IngestionJob) {
	fmt.Fprintf(w, "job %s: %s (%d%%) document %d\n", job.Id, job.State, job.Progress, job.DocumentId)
	if job.State == core.JobFailed {
		fmt.Fprintf(w, "  error [%s]: %s\n", job.ErrorKind, job.Error)
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the state of an ingestion job",
		ArgsUsage: "<job-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected one job id, got %d arguments", c.NArg())
			}
			return withEngine(c, func(e *docusense.Engine) error {
				job, err := e.GetJobStatus(c.Context, c.Args().First())
				if err != nil {
					return err
				}
				printJob(c.App.Writer, job)
				return nil
			})
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a queued or running ingestion job",
		ArgsUsage: "<job-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected one job id, got %d arguments", c.NArg())
			}
			return withEngine(c, func(e *docusense.Engine) error {
				if err := e.CancelJob(c.Context, c.Args().First()); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "canceled job %s\n", c.Args().First())
				return nil
			})
		},
	}
}

func parseDocumentID(s string) (core.ID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid document id %q", s)
	}
	return core.ID(id), nil
}

func retryCommand() *cli.Command {
	return &cli.Command{
		Name:      "retry",
		Usage:     "Queue a new ingestion job for a failed document",
		ArgsUsage: "<document-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected one document id, got %d arguments", c.NArg())
			}
			id, err := parseDocumentID(c.Args().First())
			if err != nil {
				return err
			}
			return withEngine(c, func(e *docusense.Engine) error {
				job, err := e.RetryDocument(c.Context, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "queued document %d (job %s, replaces %s)\n", id, job.Id, job.Supersedes)
				return nil
			})
		},
	}
}

func documentsCommand() *cli.Command {
	return &cli.Command{
		Name:   "documents",
		Usage:  "List the documents of a collection",
		Flags:  []cli.Flag{collectionFlag},
		Action: documentsAction,
	}
}

func documentsAction(c *cli.Context) error {
	return withEngine(c, func(e *docusense.Engine) error {
		docs, err := e.Documents(c.Context, c.String("collection"))
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Fprintf(c.App.Writer, "no documents in %q\n", c.String("collection"))
			return nil
		}

		tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tCHUNKS\tTYPE\tTITLE")
		for _, doc := range docs {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", doc.Id, doc.Status, doc.ChunkCount, doc.SourceType, doc.Title)
		}
		return tw.Flush()
	})
}
