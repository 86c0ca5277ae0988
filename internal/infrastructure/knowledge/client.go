// Package knowledge is the HTTP client for the external knowledge service.
package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	domain "bella-server/internal/domain/knowledge"
)

var _ domain.Retriever = (*Client)(nil)

type passagesRequest struct {
	SubQueries      []string `json:"subQueries"`
	SummarizedQuery string   `json:"summarizedQuery"`
}

type passagesResponse struct {
	Passages []domain.Passage `json:"passages"`
}

// Client queries related passages over HTTP.
type Client struct {
	httpClient *resty.Client
}

// NewClient creates a knowledge client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		httpClient: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("Content-Type", "application/json").
			SetTimeout(timeout),
	}
}

// GetRelatedPassages returns passages for the queries, one per source id,
// sorted by relevance descending.
func (c *Client) GetRelatedPassages(ctx context.Context, source domain.Source, subQueries []string, summarizedQuery string) ([]domain.Passage, error) {
	var out passagesResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("source", strings.ToLower(string(source))).
		SetBody(passagesRequest{SubQueries: subQueries, SummarizedQuery: summarizedQuery}).
		SetResult(&out).
		Post("/v1/sources/{source}/passages")
	if err != nil {
		return nil, fmt.Errorf("query %s passages: %w", source, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("knowledge api error: %d %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	passages := dedupe(out.Passages)
	domain.SortByRelevance(passages)
	return passages, nil
}

// dedupe keeps the most relevant passage per source id.
func dedupe(passages []domain.Passage) []domain.Passage {
	index := make(map[string]int, len(passages))
	out := make([]domain.Passage, 0, len(passages))
	for _, p := range passages {
		if i, ok := index[p.SourceID]; ok {
			if p.Relevance > out[i].Relevance {
				out[i] = p
			}
			continue
		}
		index[p.SourceID] = len(out)
		out = append(out, p)
	}
	return out
}
