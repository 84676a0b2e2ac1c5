package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/docusense"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/search"
)

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a question from a collection",
		ArgsUsage: "<question>",
		Action:    askAction,
		Flags: []cli.Flag{
			collectionFlag,
			&cli.IntFlag{
				Name:    "k",
				Aliases: []string{"n"},
				Usage:   "Number of chunks to answer from (0 uses the configured default)",
			},
			&cli.BoolFlag{
				Name:  "explain",
				Usage: "Print retrieval details to stderr",
			},
		},
	}
}

func askAction(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("a question is required")
	}

	var monitor search.SearchMonitor
	if c.Bool("explain") {
		monitor = &explainMonitor{w: c.App.ErrWriter}
	}

	return withEngine(c, func(e *docusense.Engine) error {
		answer, err := e.AskWithMonitor(c.Context, c.String("collection"), question, c.Int("k"), monitor)
		if err != nil {
			return err
		}
		printAnswer(c.App.Writer, answer)
		return nil
	})
}

func printAnswer(w io.Writer, answer *core.Answer) {
	fmt.Fprintln(w, answer.Text)
	if len(answer.Citations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for _, c := range answer.Citations {
			fmt.Fprintf(w, "  [%d] %s (document %d, chunk %d, score %.3f)\n",
				c.Index, c.DocumentTitle, c.DocumentId, c.Sequence, c.Score)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "confidence %.2f, %s", answer.Confidence, answer.Latency.Round(1e6))
	if answer.Id != 0 {
		fmt.Fprintf(w, ", answer %d", answer.Id)
	}
	fmt.Fprintln(w)
}

// explainMonitor prints each retrieval stage.
type explainMonitor struct {
	mu sync.Mutex
	w  io.Writer
}

var _ search.SearchMonitor = (*explainMonitor)(nil)

func (m *explainMonitor) printf(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.w, format, args...)
}

func (m *explainMonitor) Start(collection, query string) {
	m.printf("searching %q for %q\n", collection, query)
}

func (m *explainMonitor) AfterQueryEmbedding(dimension int) {
	m.printf("  query embedded (%d dimensions)\n", dimension)
}

func (m *explainMonitor) Degraded(err error) {
	m.printf("  vector search skipped, keyword results only: %v\n", err)
}

func (m *explainMonitor) AfterVectorSearch(hits []core.ScoredChunk) {
	m.printf("  vector search: %d hits%s\n", len(hits), topHit(hits))
}

func (m *explainMonitor) AfterKeywordSearch(terms []string, hits []core.ScoredChunk) {
	m.printf("  keyword search %v: %d hits%s\n", terms, len(hits), topHit(hits))
}

func (m *explainMonitor) Finish(candidates []*core.Candidate) {
	m.printf("  %d candidates\n", len(candidates))
	for _, c := range candidates {
		m.printf("  %2d. %.3f (vector %.3f, keyword %.3f) %s #%d\n",
			c.Rank, c.FusedScore, c.VectorScore, c.KeywordScore, c.DocumentTitle, c.Chunk.Sequence)
	}
}

func topHit(hits []core.ScoredChunk) string {
	if len(hits) == 0 {
		return ""
	}
	return ", best " + strconv.FormatFloat(hits[0].Score, 'f', 3, 64)
}

func feedbackCommand() *cli.Command {
	return &cli.Command{
		Name:      "feedback",
		Usage:     "Rate a logged answer",
		ArgsUsage: "<answer-id> <up|down>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Free text comment",
			},
		},
		Action: feedbackAction,
	}
}

func parseRating(s string) (int, error) {
	switch strings.ToLower(s) {
	case "up", "+1", "1", "good":
		return 1, nil
	case "down", "-1", "bad":
		return -1, nil
	}
	return 0, fmt.Errorf("invalid rating %q: use up or down", s)
}

func feedbackAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected an answer id and a rating, got %d arguments", c.NArg())
	}
	id, err := strconv.ParseUint(c.Args().Get(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid answer id %q", c.Args().Get(0))
	}
	rating, err := parseRating(c.Args().Get(1))
	if err != nil {
		return err
	}

	return withEngine(c, func(e *docusense.Engine) error {
		if err := e.Feedback(c.Context, core.ID(id), rating, c.String("note")); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "recorded feedback on answer %d\n", id)
		return nil
	})
}
