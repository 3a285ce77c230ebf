package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
	"github.com/kirillkom/hybrid-rag/internal/core/ports"
	"github.com/kirillkom/hybrid-rag/internal/infrastructure/resilience"
)

const serviceName = "qdrant"

// pointNamespace maps passage IDs that are not UUIDs onto valid point IDs.
var pointNamespace = uuid.MustParse("0b8f4e2a-5c61-4f3d-9e7a-2d1c6b4a8f90")

type Client struct {
	baseURL    string
	collection string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) { c.executor = executor }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func New(baseURL, collection string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) Upsert(ctx context.Context, passages []domain.Passage) error {
	if len(passages) == 0 {
		return nil
	}

	points := make([]point, 0, len(passages))
	for _, p := range passages {
		if len(p.Embedding) == 0 {
			return domain.WrapError(domain.ErrInvalidInput, "qdrant upsert", fmt.Errorf("passage %s has no embedding", p.ID))
		}
		points = append(points, point{
			ID:      PointID(p.ID),
			Vector:  p.Embedding,
			Payload: passagePayload(p),
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	err := c.execute(ctx, "upsert", func(callCtx context.Context) error {
		return c.doJSON(callCtx, http.MethodPut, url, map[string]any{"points": points}, nil, "upsert")
	})
	return resilience.WrapTemporaryIfNeeded("qdrant upsert", err)
}

func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, PointID(id))
	}

	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.baseURL, c.collection)
	err := c.execute(ctx, "delete", func(callCtx context.Context) error {
		return c.doJSON(callCtx, http.MethodPost, url, map[string]any{"points": pointIDs}, nil, "delete")
	})
	return resilience.WrapTemporaryIfNeeded("qdrant delete", err)
}

func (c *Client) Search(ctx context.Context, queryVector []float32, limit int) ([]ports.VectorHit, error) {
	if len(queryVector) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "qdrant search", fmt.Errorf("empty query vector"))
	}
	if limit <= 0 {
		limit = domain.DefaultTopK
	}

	reqBody := map[string]any{
		"query":        queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	url := fmt.Sprintf("%s/collections/%s/points/query", c.baseURL, c.collection)

	var points []scoredPoint
	err := c.execute(ctx, "search", func(callCtx context.Context) error {
		var queryResp struct {
			Result struct {
				Points []scoredPoint `json:"points"`
			} `json:"result"`
		}
		if err := c.doJSON(callCtx, http.MethodPost, url, reqBody, &queryResp, "search"); err != nil {
			return err
		}
		points = queryResp.Result.Points
		return nil
	})
	if err != nil {
		return nil, resilience.WrapTemporaryIfNeeded("qdrant search", err)
	}

	out := make([]ports.VectorHit, 0, len(points))
	for _, p := range points {
		out = append(out, ports.VectorHit{
			Passage:    passageFromPayload(p.ID, p.Payload),
			Similarity: p.Score,
		})
	}
	return out, nil
}

const scrollPageSize = 256

// ListIDs scrolls the whole collection, reading only the passage_id payload.
func (c *Client) ListIDs(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/collections/%s/points/scroll", c.baseURL, c.collection)

	var (
		ids    []string
		offset any
	)
	for {
		reqBody := map[string]any{
			"limit":        scrollPageSize,
			"with_payload": []string{"passage_id"},
			"with_vector":  false,
		}
		if offset != nil {
			reqBody["offset"] = offset
		}

		var page struct {
			Result struct {
				Points         []scoredPoint `json:"points"`
				NextPageOffset any           `json:"next_page_offset"`
			} `json:"result"`
		}
		err := c.execute(ctx, "scroll", func(callCtx context.Context) error {
			return c.doJSON(callCtx, http.MethodPost, url, reqBody, &page, "scroll")
		})
		if err != nil {
			return nil, resilience.WrapTemporaryIfNeeded("qdrant scroll", err)
		}
		for _, p := range page.Result.Points {
			ids = append(ids, passageFromPayload(p.ID, p.Payload).ID)
		}
		if page.Result.NextPageOffset == nil || len(page.Result.Points) == 0 {
			return ids, nil
		}
		offset = page.Result.NextPageOffset
	}
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) EnsureCollection(ctx context.Context, vectorSize int) error {
	if vectorSize <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "qdrant ensure collection", fmt.Errorf("vector size must be > 0"))
	}
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.execute(ctx, "ensure_collection", func(callCtx context.Context) error {
		err := c.doJSON(callCtx, http.MethodPut, url, reqBody, nil, "ensure collection")
		// 409 when the collection already exists.
		var statusErr *resilience.HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
			return nil
		}
		return err
	})
	if err != nil {
		return resilience.WrapTemporaryIfNeeded("qdrant ensure collection", err)
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, serviceName+"_"+operation, fn, resilience.ClassifyHTTPError)
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError(serviceName, operation, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

// PointID returns the Qdrant point ID for a passage ID.
func PointID(passageID string) string {
	if id, err := uuid.Parse(passageID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(pointNamespace, []byte(passageID)).String()
}

func passagePayload(p domain.Passage) map[string]any {
	payload := map[string]any{
		"passage_id":   p.ID,
		"text":         p.Text,
		"source_file":  p.SourceFile,
		"record_index": p.RecordIndex,
	}
	if p.Page != nil {
		payload["page"] = *p.Page
	}
	if p.Kind != "" {
		payload["type"] = p.Kind
	}
	if p.ChunkCount > 0 {
		payload["chunk_index"] = p.ChunkIndex
		payload["chunk_count"] = p.ChunkCount
	}
	return payload
}

// passageFromPayload also reads collections written with page_idx.
func passageFromPayload(pointID any, payload map[string]any) domain.Passage {
	p := domain.Passage{
		ID:         getStringPayload(payload, "passage_id"),
		Text:       getStringPayload(payload, "text"),
		SourceFile: getStringPayload(payload, "source_file"),
		Kind:       getStringPayload(payload, "type"),
	}
	if p.ID == "" && pointID != nil {
		p.ID = fmt.Sprintf("%v", pointID)
	}
	if page, ok := getIntPayload(payload, "page"); ok {
		p.Page = domain.IntPtr(page)
	} else if page, ok := getIntPayload(payload, "page_idx"); ok {
		p.Page = domain.IntPtr(page)
	}
	if idx, ok := getIntPayload(payload, "record_index"); ok {
		p.RecordIndex = idx
	}
	idx, okIdx := getIntPayload(payload, "chunk_index")
	count, okCount := getIntPayload(payload, "chunk_count")
	if okIdx && okCount && count > 0 {
		p.ChunkIndex = idx
		p.ChunkCount = count
	}
	return p
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case float64:
		if math.IsNaN(v) || v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}
