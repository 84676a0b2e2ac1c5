package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/docusense"
	"github.com/poiesic/docusense/core"
)

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Add files, directories, URLs or inline text to a collection",
		ArgsUsage: "<file|directory|url>...",
		Action:    ingestAction,
		Flags: []cli.Flag{
			collectionFlag,
			&cli.StringFlag{
				Name:  "text",
				Usage: "Ingest this text instead of files",
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "Document title (single input only)",
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Force the source type (text, markdown, pdf)",
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Wait for the jobs to finish; otherwise unstarted jobs run in the next docusense process, such as serve",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long --wait waits",
				Value: 10 * time.Minute,
			},
		},
	}
}

// input is one document to ingest.
type input struct {
	name string
	req  docusense.IngestRequest
}

// sourceTypeFor maps a file extension to a source type. ok is false for
// files a directory walk should skip.
func sourceTypeFor(path string) (core.SourceType, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return core.SourceTypeMarkdown, true
	case ".txt", ".text":
		return core.SourceTypeText, true
	}
	return core.SourceTypeText, false
}

func isURL(arg string) bool {
	return strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://")
}

func fileInput(path string, forced core.SourceType) (input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return input{}, err
	}
	st, _ := sourceTypeFor(path)
	if forced != "" {
		st = forced
	}
	return input{
		name: path,
		req: docusense.IngestRequest{
			SourceType: st,
			Content:    string(data),
			Source:     path,
			Metadata:   map[string]string{"path": path},
		},
	}, nil
}

// collectInputs expands the command arguments. Directories are walked
// for markdown and text files.
func collectInputs(args []string, text string, forced core.SourceType) ([]input, error) {
	if text != "" {
		st := core.SourceTypeText
		if forced != "" {
			st = forced
		}
		return []input{{name: "inline text", req: docusense.IngestRequest{SourceType: st, Content: text}}}, nil
	}
	if len(args) == 0 {
		return nil, errors.New("nothing to ingest: give files, directories, URLs or --text")
	}

	var inputs []input
	for _, arg := range args {
		if isURL(arg) {
			inputs = append(inputs, input{name: arg, req: docusense.IngestRequest{SourceType: core.SourceTypeURL, Source: arg}})
			continue
		}

		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			in, err := fileInput(arg, forced)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, in)
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if _, ok := sourceTypeFor(path); !ok {
				return nil
			}
			in, err := fileInput(path, forced)
			if err != nil {
				return err
			}
			inputs = append(inputs, in)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return inputs, nil
}

func ingestAction(c *cli.Context) error {
	inputs, err := collectInputs(c.Args().Slice(), c.String("text"), core.SourceType(c.String("type")))
	if err != nil {
		return err
	}
	if title := c.String("title"); title != "" {
		if len(inputs) != 1 {
			return errors.New("--title needs exactly one input")
		}
		inputs[0].req.Title = title
	}

	collection := c.String("collection")
	out := c.App.Writer

	return withEngine(c, func(e *docusense.Engine) error {
		ctx := c.Context
		var jobs []string
		for _, in := range inputs {
			jobID, err := e.Ingest(ctx, collection, in.req)
			var dup *core.DuplicateDocumentError
			if errors.As(err, &dup) {
				fmt.Fprintf(out, "skipped %s: already ingested as document %d\n", in.name, dup.ExistingId)
				continue
			}
			if err != nil {
				return fmt.Errorf("%s: %w", in.name, err)
			}
			fmt.Fprintf(out, "queued %s (job %s)\n", in.name, jobID)
			jobs = append(jobs, jobID)
		}

		if !c.Bool("wait") {
			return nil
		}

		waitCtx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
		defer cancel()
		failed := 0
		for _, jobID := range jobs {
			job, err := e.WaitForJob(waitCtx, jobID, 200*time.Millisecond)
			if err != nil {
				return err
			}
			printJob(out, job)
			if job.State == core.JobFailed {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents failed", failed, len(jobs))
		}
		return nil
	})
}
