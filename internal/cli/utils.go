// Package cli renders search results and store statistics for the recall command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/pkg/utils"
)

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText SearchOutputFormat = "text"
	// OutputCompact prints one line per result.
	OutputCompact SearchOutputFormat = "compact"
	// OutputJSON is the response envelope as indented JSON.
	OutputJSON SearchOutputFormat = "json"
)

const (
	maxTextLen         = 200
	maxConversationLen = 30
	compactTextLen     = 80
)

// ParseOutputFormat validates a --format value.
func ParseOutputFormat(s string) (SearchOutputFormat, error) {
	switch f := SearchOutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	}
	return "", fmt.Errorf("unknown format %q (want text, compact or json)", s)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		return writeSearchResultsCompact(w, response)
	default:
		return writeSearchResultsText(w, response)
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) error {
	fmt.Fprintf(w, "Searching for: %s\n", response.Query)
	fmt.Fprintf(w, "Metric: %s, Limit: %d, Threshold: %g\n\n", response.Metric, response.Limit, response.Threshold)
	if len(response.Results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}
	for i, r := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "#%d  similarity %.4f  [%s]  %s\n", i+1, r.Similarity, r.Role,
			utils.Truncate(r.ConversationID, maxConversationLen))
		fmt.Fprintf(w, "ID: %s\n", r.MessageID)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Text, maxTextLen))
	}
	_, err := fmt.Fprintf(w, "Found %d result(s) in %dms\n", response.Total, response.QueryTime)
	return err
}

func writeSearchResultsCompact(w io.Writer, response *models.SearchResponse) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range response.Results {
		fmt.Fprintf(tw, "%.4f\t%s\t%s\t%s\n", r.Similarity, r.Role,
			utils.Truncate(r.ConversationID, maxConversationLen), utils.Excerpt(r.Text, compactTextLen))
	}
	return tw.Flush()
}

// RoleCount is one row of a role distribution.
type RoleCount struct {
	Role  string
	Count int64
}

// SortedRoles returns the role distribution ordered by count descending, then role name.
func SortedRoles(dist map[string]int64) []RoleCount {
	out := make([]RoleCount, 0, len(dist))
	for role, n := range dist {
		out = append(out, RoleCount{Role: role, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Role < out[j].Role
	})
	return out
}

// WriteStats writes store statistics to w. Only OutputJSON and text are distinguished.
func WriteStats(w io.Writer, st *models.Stats, format SearchOutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Total messages: %d\n\n", st.TotalMessages)
	if len(st.RoleDistribution) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROLE\tCOUNT")
		for _, rc := range SortedRoles(st.RoleDistribution) {
			fmt.Fprintf(tw, "%s\t%d\n", rc.Role, rc.Count)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	_, err := fmt.Fprintf(w, "Messages with embeddings: %d\n", st.MessagesWithEmbeddings)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
