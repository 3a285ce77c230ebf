package openai

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
	"github.com/kirillkom/hybrid-rag/internal/infrastructure/resilience"
)

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	err := e.client.execute(ctx, "embed", func(callCtx context.Context) error {
		return e.client.postJSON(callCtx, "/embeddings", request, &response, "embed")
	})
	if err != nil {
		return nil, resilience.WrapTemporaryIfNeeded("llm embed", err)
	}
	if len(response.Data) != len(texts) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"llm embed",
			fmt.Errorf("embeddings/texts mismatch: %d/%d", len(response.Data), len(texts)),
		)
	}

	sort.SliceStable(response.Data, func(i, j int) bool { return response.Data[i].Index < response.Data[j].Index })
	out := make([][]float32, len(response.Data))
	for i, item := range response.Data {
		out[i] = item.Embedding
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vectors[0], nil
}
