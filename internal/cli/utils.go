// Package cli provides output formatting for the Kotae command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch s {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// WriteQueryResponse writes an answer with its sources to w.
func WriteQueryResponse(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\n%s\n\n", resp.Answer)
	fmt.Fprintf(w, "Confidence: %.2f | Session: %s | %dms\n", resp.Confidence, resp.SessionID, resp.QueryTime)
	if len(resp.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for i, src := range resp.Sources {
			fmt.Fprintf(w, "  %d. %s [%s] (relevance %.2f)\n     %s\n",
				i+1, src.Title, src.Category, src.Relevance, src.DocumentID)
		}
	}
	return nil
}

// WriteVersions writes a version history listing to w, newest first.
func WriteVersions(w io.Writer, versions []*models.VersionInfo, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, versions)
	}
	for _, v := range versions {
		marker := " "
		if v.IsCurrent {
			marker = "*"
		}
		summary := v.ChangeSummary
		if summary == "" {
			summary = "-"
		}
		fmt.Fprintf(w, "%s v%-3d %-15s %-10s %6dB  %s  %s\n",
			marker, v.VersionNumber, v.ChangeType, v.CreatedBy, v.ContentSize,
			v.CreatedAt.Format("2006-01-02 15:04"), Truncate(summary, 60))
	}
	return nil
}

// WriteAdmitResult writes a rate-limit admission outcome to w.
func WriteAdmitResult(w io.Writer, res *models.AdmitResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	if res.Allowed {
		fmt.Fprintf(w, "allowed (%d of %d remaining in window starting %s)\n",
			res.Remaining, res.Limit, res.WindowStart.Format("15:04:05"))
	} else {
		fmt.Fprintf(w, "rejected (limit %d, retry in %s)\n", res.Limit, res.RetryAfter.Round(time.Second))
	}
	return nil
}

func writeJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// JoinArgs joins positional arguments into one query string so multi-word
// queries work with or without shell quoting.
func JoinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
