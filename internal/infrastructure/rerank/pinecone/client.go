package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
	"github.com/kirillkom/hybrid-rag/internal/infrastructure/resilience"
)

const (
	serviceName       = "pinecone"
	DefaultBaseURL    = "https://api.pinecone.io"
	DefaultAPIVersion = "2025-01"
)

// Client calls the Pinecone inference rerank endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	apiVersion string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, apiKey string, executor *resilience.Executor) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		apiVersion: DefaultAPIVersion,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executor:   executor,
	}
}

type rerankDocument struct {
	Text string `json:"text"`
}

type rerankRequest struct {
	Model           string           `json:"model"`
	Query           string           `json:"query"`
	Documents       []rerankDocument `json:"documents"`
	TopN            int              `json:"top_n"`
	ReturnDocuments bool             `json:"return_documents"`
}

type rerankResponse struct {
	Data []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"data"`
}

// Score returns one relevance score per text, aligned with the input order.
func (c *Client) Score(ctx context.Context, model, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return []float64{}, nil
	}
	if c.apiKey == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "pinecone rerank", fmt.Errorf("api key is not set"))
	}

	docs := make([]rerankDocument, len(texts))
	for i, text := range texts {
		docs[i] = rerankDocument{Text: text}
	}
	request := rerankRequest{
		Model:           model,
		Query:           query,
		Documents:       docs,
		TopN:            len(texts),
		ReturnDocuments: false,
	}

	var response rerankResponse
	call := func(callCtx context.Context) error {
		return c.post(callCtx, request, &response)
	}
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, serviceName+"_rerank", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, resilience.WrapTemporaryIfNeeded("pinecone rerank", err)
	}

	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("pinecone rerank returned out-of-range index %d", item.Index)
		}
		scores[item.Index] = item.Score
		seen[item.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("pinecone rerank returned no score for document %d", i)
		}
	}
	return scores, nil
}

func (c *Client) post(ctx context.Context, payload rerankRequest, out *rerankResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("X-Pinecone-API-Version", c.apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pinecone rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError(serviceName, "rerank", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode rerank response: %w", err)
	}
	return nil
}
