// Package knowledge defines the narrow query interface to the external
// knowledge augmentation service.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Source names a knowledge base the planner can request.
type Source string

const SourceCoppermind Source = "COPPERMIND"

// Passage is one retrieved snippet.
type Passage struct {
	Content   string  `json:"content"`
	SourceID  string  `json:"sourceId"`
	Relevance float64 `json:"relevance"`
}

// Retriever returns passages related to the queries, sorted by relevance
// descending, already deduplicated and threshold filtered.
type Retriever interface {
	GetRelatedPassages(ctx context.Context, source Source, subQueries []string, summarizedQuery string) ([]Passage, error)
}

// Queries is the query set generated for a knowledge lookup.
type Queries struct {
	SubQueries      []string `json:"subQueries" jsonschema:"minItems=1,maxItems=5,description=Short self-contained search queries"`
	SummarizedQuery string   `json:"summarizedQuery" jsonschema:"description=One sentence describing what the user wants to know"`
}

// QueryGenerator turns the conversation tail into search queries.
type QueryGenerator interface {
	GenerateQueries(ctx context.Context, source Source, conversation []string) (Queries, error)
}

// SortByRelevance orders passages by relevance descending, keeping input order for ties.
func SortByRelevance(passages []Passage) {
	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].Relevance > passages[j].Relevance
	})
}

// FormatContext renders passages as numbered quotes for a system prompt.
func FormatContext(source Source, passages []Passage) string {
	if len(passages) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Relevant passages from %s:\n", strings.ToLower(string(source)))
	for i, p := range passages {
		fmt.Fprintf(&b, "\n[%d] (source: %s)\n> %s\n", i+1, p.SourceID, strings.ReplaceAll(strings.TrimSpace(p.Content), "\n", "\n> "))
	}
	return b.String()
}
