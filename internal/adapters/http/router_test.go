package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
	"github.com/kirillkom/hybrid-rag/internal/core/ports"
	"github.com/kirillkom/hybrid-rag/internal/observability/metrics"
)

type retrieverFake struct {
	result *domain.RetrievalResult
	err    error
	calls  int
	query  string
	cfg    domain.RetrievalConfig
}

func (f *retrieverFake) Retrieve(_ context.Context, query string, cfg domain.RetrievalConfig) (*domain.RetrievalResult, error) {
	f.calls++
	f.query = query
	f.cfg = cfg
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &domain.RetrievalResult{Query: query, Status: domain.StatusNoCandidates}, nil
}

type answererFake struct {
	answer *domain.Answer
	err    error
}

func (f *answererFake) Answer(_ context.Context, question string) (*domain.Answer, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.answer != nil {
		return f.answer, nil
	}
	return &domain.Answer{Text: "ok: " + question, Status: domain.StatusOK}, nil
}

type enqueuerFake struct {
	paths []string
	err   error
}

func (f *enqueuerFake) Enqueue(_ context.Context, path string) (ports.IngestJob, error) {
	if f.err != nil {
		return ports.IngestJob{}, f.err
	}
	f.paths = append(f.paths, path)
	return ports.IngestJob{ID: "job-1", CorpusPath: path, EnqueuedAt: time.Now().UTC()}, nil
}

type corpusStoreFake struct {
	saved map[string]string
}

func (f *corpusStoreFake) Save(_ context.Context, key string, data io.Reader) (string, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	if f.saved == nil {
		f.saved = make(map[string]string)
	}
	f.saved[key] = string(raw)
	return "/srv/corpus/" + key, nil
}

func (f *corpusStoreFake) Resolve(_ context.Context, key string) (string, error) {
	if strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", domain.WrapError(domain.ErrInvalidInput, "storage key", errors.New("invalid key"))
	}
	if _, ok := f.saved[key]; !ok {
		return "", domain.WrapError(domain.ErrNotFound, "resolve corpus file", errors.New("no stored corpus"))
	}
	return "/srv/corpus/" + key, nil
}

func testRetrievalConfig() domain.RetrievalConfig {
	cfg := domain.DefaultRetrievalConfig()
	cfg.EnableReranking = false
	return cfg
}

func newTestRouter(retriever ports.Retriever, answerer ports.QuestionAnswerer, ingestor corpusEnqueuer) http.Handler {
	return NewRouter(Options{Retrieval: testRetrievalConfig()}, retriever, answerer, ingestor, nil).Handler()
}

func sampleResult() *domain.RetrievalResult {
	rerank := 0.9
	return &domain.RetrievalResult{
		Query:  "apple",
		Status: domain.StatusOK,
		Items: []domain.RetrievedPassage{{
			Result: domain.FusedResult{
				Passage:     domain.Passage{ID: "p1", Text: "apple pie recipe", SourceFile: "book.pdf", Page: domain.IntPtr(3)},
				Score:       0.0476,
				VectorRank:  1,
				KeywordRank: 1,
				RerankScore: &rerank,
			},
			Citation: domain.Citation{SourceLabel: "book.pdf", Page: domain.IntPtr(3), Preview: "apple pie recipe"},
		}},
		VectorCount:   1,
		KeywordCount:  1,
		FusedTopScore: 0.0476,
	}
}

func TestHealthzEndpoint(t *testing.T) {
	handler := newTestRouter(&retrieverFake{}, &answererFake{}, nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestRetrieveReturnsItemsStatsAndSources(t *testing.T) {
	retriever := &retrieverFake{result: sampleResult()}
	handler := newTestRouter(retriever, &answererFake{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", bytes.NewReader([]byte(`{"query":"apple","top_k":8,"vector_weight":0.7}`)))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if retriever.cfg.TopK != 8 || retriever.cfg.VectorWeight != 0.7 || retriever.cfg.KeywordWeight != 0.5 {
		t.Fatalf("expected overrides applied on top of session config, got %+v", retriever.cfg)
	}

	var body struct {
		Status       string   `json:"status"`
		VectorCount  int      `json:"vector_count"`
		KeywordCount int      `json:"keyword_count"`
		Sources      []string `json:"sources"`
		Items        []struct {
			Citation struct {
				SourceLabel string `json:"source"`
			} `json:"citation"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "ok" || body.VectorCount != 1 || body.KeywordCount != 1 {
		t.Fatalf("unexpected stats %+v", body)
	}
	if len(body.Sources) != 1 || !strings.Contains(body.Sources[0], "book.pdf") || !strings.Contains(body.Sources[0], "page: 3") {
		t.Fatalf("unexpected source lines %v", body.Sources)
	}
}

func TestRetrieveCannotEnableRerankingWithoutSessionSupport(t *testing.T) {
	retriever := &retrieverFake{}
	handler := newTestRouter(retriever, &answererFake{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", bytes.NewReader([]byte(`{"query":"apple","enable_reranking":true}`)))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if retriever.cfg.EnableReranking {
		t.Fatalf("expected reranking to stay disabled")
	}
}

func TestRetrieveRequiresQueryAndPost(t *testing.T) {
	handler := newTestRouter(&retrieverFake{}, &answererFake{}, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/retrieve", bytes.NewReader([]byte(`{"query":"  "}`))))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank query, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/retrieve", nil))
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/retrieve", bytes.NewReader([]byte(`{`))))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %d", res.Code)
	}
}

func TestQueryRAGReturnsAnswerWithSourceLines(t *testing.T) {
	result := sampleResult()
	answerer := &answererFake{answer: &domain.Answer{
		Text:      "Bake the apples.",
		Status:    domain.StatusOK,
		Sources:   result.Items,
		Retrieval: result,
	}}
	handler := newTestRouter(&retrieverFake{}, answerer, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/rag/query", bytes.NewReader([]byte(`{"question":"how to bake apple pie?"}`)))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body struct {
		Text        string   `json:"text"`
		SourceLines []string `json:"source_lines"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Text != "Bake the apples." || len(body.SourceLines) != 1 {
		t.Fatalf("unexpected answer body %+v", body)
	}
}

func TestIngestEnqueuesStoredCorpus(t *testing.T) {
	enqueuer := &enqueuerFake{}
	store := &corpusStoreFake{saved: map[string]string{"ocr.json": "[]"}}
	handler := NewRouter(Options{Retrieval: testRetrievalConfig()}, &retrieverFake{}, &answererFake{}, enqueuer, store).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/corpus/ingest", bytes.NewReader([]byte(`{"corpus_key":"ocr.json"}`)))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if len(enqueuer.paths) != 1 || enqueuer.paths[0] != "/srv/corpus/ocr.json" {
		t.Fatalf("unexpected enqueued paths %v", enqueuer.paths)
	}
}

func TestIngestRejectsKeysOutsideStorage(t *testing.T) {
	cases := []struct {
		body string
		want int
	}{
		{`{"corpus_key":"../../../../etc/secrets.json"}`, http.StatusBadRequest},
		{`{"corpus_key":"/etc/passwd"}`, http.StatusBadRequest},
		{`{"corpus_path":"/etc/passwd"}`, http.StatusBadRequest},
		{`{"corpus_key":"missing.json"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		enqueuer := &enqueuerFake{}
		store := &corpusStoreFake{saved: map[string]string{"ocr.json": "[]"}}
		handler := NewRouter(Options{Retrieval: testRetrievalConfig()}, &retrieverFake{}, &answererFake{}, enqueuer, store).Handler()

		req := httptest.NewRequest(http.MethodPost, "/v1/corpus/ingest", bytes.NewReader([]byte(tc.body)))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)

		if res.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.body, tc.want, res.Code)
		}
		if len(enqueuer.paths) != 0 {
			t.Fatalf("%s: expected nothing enqueued, got %v", tc.body, enqueuer.paths)
		}
	}
}

func TestUploadKeyDropsDirectories(t *testing.T) {
	for in, want := range map[string]string{
		"ocr.json":           "ocr.json",
		"../../etc/ocr.json": "ocr.json",
		`C:\upload\ocr.json`: "ocr.json",
	} {
		if got := uploadKey(in); got != want {
			t.Fatalf("uploadKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUploadStoresCorpusAndEnqueues(t *testing.T) {
	enqueuer := &enqueuerFake{}
	store := &corpusStoreFake{}
	handler := NewRouter(Options{Retrieval: testRetrievalConfig()}, &retrieverFake{}, &answererFake{}, enqueuer, store).Handler()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "ocr.json")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte(`[{"text":"apple"}]`))
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/corpus/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if store.saved["ocr.json"] != `[{"text":"apple"}]` {
		t.Fatalf("expected upload stored, got %v", store.saved)
	}
	if len(enqueuer.paths) != 1 || enqueuer.paths[0] != "/srv/corpus/ocr.json" {
		t.Fatalf("expected stored path enqueued, got %v", enqueuer.paths)
	}
}

func TestUploadRequiresFileField(t *testing.T) {
	handler := NewRouter(Options{Retrieval: testRetrievalConfig()}, &retrieverFake{}, &answererFake{}, &enqueuerFake{}, &corpusStoreFake{}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/corpus/upload", bytes.NewReader([]byte("plain")))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestMetricsEndpointExposesRAGCounters(t *testing.T) {
	m := metrics.NewHTTPServerMetrics(serviceName)
	handler := NewRouter(Options{Retrieval: testRetrievalConfig(), Metrics: m}, &retrieverFake{result: sampleResult()}, &answererFake{}, nil, nil).Handler()

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/retrieve", bytes.NewReader([]byte(`{"query":"apple"}`))))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(res.Body.String(), "hrag_rag_requests_total") {
		t.Fatalf("expected rag counters in metrics output")
	}
}
