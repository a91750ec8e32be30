package e2e

import (
	"bytes"
	"testing"

	"github.com/hyperjump/recall/internal/ingest"
)

func TestBuildCorpus_TestCasesExist(t *testing.T) {
	c := BuildCorpus()
	if c.TotalMessages != 2*len(c.Exchanges) {
		t.Errorf("TotalMessages = %d, want %d", c.TotalMessages, 2*len(c.Exchanges))
	}
	for i, tc := range c.TestCases {
		if tc.Query == "" {
			t.Errorf("test case %d: empty query", i)
		}
		if tc.ExpectedID == "" {
			t.Errorf("test case %d: no expected message id", i)
		}
	}
}

func TestBuildCorpus_AnswersAreDistinct(t *testing.T) {
	seen := make(map[string]bool)
	for _, ex := range BuildCorpus().Exchanges {
		for _, text := range []string{ex.Question, ex.Answer} {
			if seen[text] {
				t.Errorf("duplicate text %q", text)
			}
			seen[text] = true
		}
	}
}

func TestWriteExport_RoundTripsThroughParser(t *testing.T) {
	c := BuildCorpus()
	for name, write := range map[string]func(*bytes.Buffer) error{
		"array":  func(b *bytes.Buffer) error { return c.WriteExport(b) },
		"ndjson": func(b *bytes.Buffer) error { return c.WriteNDJSON(b) },
	} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := write(&buf); err != nil {
				t.Fatal(err)
			}
			convs, err := ingest.ParseExport(&buf)
			if err != nil {
				t.Fatalf("ParseExport: %v", err)
			}
			if len(convs) != len(c.Exchanges) {
				t.Fatalf("got %d conversations, want %d", len(convs), len(c.Exchanges))
			}
			total := 0
			for _, conv := range convs {
				total += len(ingest.ExtractMessages(conv))
			}
			if total != c.TotalMessages {
				t.Errorf("extracted %d messages, want %d", total, c.TotalMessages)
			}
		})
	}
}
