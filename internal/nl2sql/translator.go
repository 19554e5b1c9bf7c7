// Package nl2sql wraps the external text-generation capability behind a
// stable contract: question plus schema description in, SQL plus
// visualization metadata out. Model output is untrusted text; a response
// that fails structured parsing degrades to a raw-SQL result rather than
// failing the request.
package nl2sql

import (
	"context"
	"encoding/json"
	"strings"
)

type VisualizationType string

const (
	VizTable      VisualizationType = "table"
	VizBar        VisualizationType = "bar"
	VizPie        VisualizationType = "pie"
	VizTimeseries VisualizationType = "timeseries"
	VizScatter    VisualizationType = "scatter"
	VizRanking    VisualizationType = "ranking"
)

// ParseVisualizationType maps free-form model output onto the enum,
// defaulting to table for anything unrecognized or absent.
func ParseVisualizationType(value string) VisualizationType {
	switch VisualizationType(strings.ToLower(strings.TrimSpace(value))) {
	case VizBar:
		return VizBar
	case VizPie:
		return VizPie
	case VizTimeseries:
		return VizTimeseries
	case VizScatter:
		return VizScatter
	case VizRanking:
		return VizRanking
	default:
		return VizTable
	}
}

const defaultTitle = "New chat"

const fallbackReasoning = "response was not valid JSON; treating raw text as SQL"

type Request struct {
	Question string
	Schema   string
}

type Result struct {
	SQL           string
	Visualization VisualizationType
	Title         string
	Reasoning     string
	// Degraded marks a result recovered from an unparseable model
	// response. The pipeline still attempts execution.
	Degraded bool
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// decodeResult parses the raw model response. JSON responses yield a fully
// structured Result; anything else falls back to the trimmed text as a raw
// SQL candidate rendered as a table.
func decodeResult(raw string) (Result, bool) {
	content := stripMarkdownFence(raw)

	var parsed struct {
		SQL               string `json:"sql"`
		VisualizationType string `json:"visualization_type"`
		ChatTitle         string `json:"chat_title"`
		Reasoning         string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		sql := stripMarkdownFence(content)
		if strings.TrimSpace(sql) == "" {
			return Result{}, false
		}
		return Result{
			SQL:           sql,
			Visualization: VizTable,
			Title:         defaultTitle,
			Reasoning:     fallbackReasoning,
			Degraded:      true,
		}, true
	}

	sql := strings.TrimSpace(parsed.SQL)
	if sql == "" {
		return Result{}, false
	}
	title := strings.TrimSpace(parsed.ChatTitle)
	if title == "" {
		title = defaultTitle
	}
	return Result{
		SQL:           sql,
		Visualization: ParseVisualizationType(parsed.VisualizationType),
		Title:         title,
		Reasoning:     parsed.Reasoning,
	}, true
}

func stripMarkdownFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```sql")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
