package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
	"github.com/kirillkom/hybrid-rag/internal/core/ports"
	"github.com/kirillkom/hybrid-rag/internal/core/usecase"
	"github.com/kirillkom/hybrid-rag/internal/observability/metrics"
)

const (
	serviceName        = "api"
	maxRequestBytes    = 1 << 20
	maxUploadBytes     = 256 << 20
	defaultMaxInFlight = 64
)

type corpusEnqueuer interface {
	Enqueue(ctx context.Context, corpusPath string) (ports.IngestJob, error)
}

// corpusStore is the only place corpus files are read from. Clients refer
// to stored files by key, never by server path.
type corpusStore interface {
	Save(ctx context.Context, key string, data io.Reader) (string, error)
	Resolve(ctx context.Context, key string) (string, error)
}

type Options struct {
	Retrieval      domain.RetrievalConfig
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	Metrics        *metrics.HTTPServerMetrics
	Logger         *slog.Logger
}

type Router struct {
	retriever ports.Retriever
	answerer  ports.QuestionAnswerer
	ingestor  corpusEnqueuer
	uploads   corpusStore

	retrieval domain.RetrievalConfig
	opts      Options
	metrics   *metrics.HTTPServerMetrics
	logger    *slog.Logger
}

// NewRouter builds the HTTP surface. ingestor and uploads may be nil, in
// which case the corpus endpoints answer 503.
func NewRouter(
	opts Options,
	retriever ports.Retriever,
	answerer ports.QuestionAnswerer,
	ingestor corpusEnqueuer,
	uploads corpusStore,
) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		retriever: retriever,
		answerer:  answerer,
		ingestor:  ingestor,
		uploads:   uploads,
		retrieval: opts.Retrieval,
		opts:      opts,
		metrics:   opts.Metrics,
		logger:    logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("/v1/retrieve", rt.retrieve)
	mux.HandleFunc("/v1/rag/query", rt.queryRAG)
	mux.HandleFunc("/v1/corpus/ingest", rt.ingestCorpus)
	mux.HandleFunc("/v1/corpus/upload", rt.uploadCorpus)

	var handler http.Handler = mux
	maxInFlight := rt.opts.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	handler = backpressureMiddleware(handler, maxInFlight, 2*time.Second)
	if rt.opts.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst, rt.recordRateLimited)
	}
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type retrieveRequest struct {
	Query           string   `json:"query"`
	TopK            *int     `json:"top_k,omitempty"`
	DisplayCount    *int     `json:"display_count,omitempty"`
	VectorWeight    *float64 `json:"vector_weight,omitempty"`
	KeywordWeight   *float64 `json:"keyword_weight,omitempty"`
	EnableReranking *bool    `json:"enable_reranking,omitempty"`
}

type retrieveResponse struct {
	*domain.RetrievalResult
	Sources []string `json:"sources"`
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req retrieveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	for name, v := range map[string]*int{"top_k": req.TopK, "display_count": req.DisplayCount} {
		if v == nil {
			continue
		}
		if err := domain.CheckRequestCount(name, *v); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	cfg := rt.retrieval
	setIf(&cfg.TopK, req.TopK)
	setIf(&cfg.DisplayCount, req.DisplayCount)
	setIf(&cfg.VectorWeight, req.VectorWeight)
	setIf(&cfg.KeywordWeight, req.KeywordWeight)
	if req.EnableReranking != nil {
		// A request can switch reranking off but never on without a credential.
		cfg.EnableReranking = cfg.EnableReranking && *req.EnableReranking
	}
	if err := cfg.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	start := time.Now()
	result, err := rt.retriever.Retrieve(r.Context(), req.Query, cfg)
	if err != nil {
		rt.writeError(w, r, "retrieve", err)
		return
	}
	rt.recordRAG("retrieve", len(result.Items), false, time.Since(start))
	writeJSON(w, http.StatusOK, retrieveResponse{
		RetrievalResult: result,
		Sources:         usecase.FormatSources(result.Items),
	})
}

type answerResponse struct {
	*domain.Answer
	SourceLines []string `json:"source_lines"`
}

func (rt *Router) queryRAG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Question string `json:"question"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	start := time.Now()
	answer, err := rt.answerer.Answer(r.Context(), req.Question)
	if err != nil {
		rt.writeError(w, r, "answer", err)
		return
	}
	rt.recordRAG("query", len(answer.Sources), answer.Degraded, time.Since(start))
	writeJSON(w, http.StatusOK, answerResponse{
		Answer:      answer,
		SourceLines: usecase.FormatSources(answer.Sources),
	})
}

func (rt *Router) ingestCorpus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.ingestor == nil || rt.uploads == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "corpus ingestion is not configured"})
		return
	}

	var req struct {
		CorpusKey string `json:"corpus_key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.CorpusKey) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "corpus_key is required"})
		return
	}

	stored, err := rt.uploads.Resolve(r.Context(), req.CorpusKey)
	if err != nil {
		rt.writeError(w, r, "resolve corpus", err)
		return
	}
	job, err := rt.ingestor.Enqueue(r.Context(), stored)
	if err != nil {
		rt.writeError(w, r, "enqueue ingest", err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (rt *Router) uploadCorpus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.ingestor == nil || rt.uploads == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "corpus ingestion is not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	stored, err := rt.uploads.Save(r.Context(), uploadKey(fileHeader.Filename), file)
	if err != nil {
		rt.writeError(w, r, "store corpus", err)
		return
	}
	job, err := rt.ingestor.Enqueue(r.Context(), stored)
	if err != nil {
		rt.writeError(w, r, "enqueue ingest", err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := mapErrorToHTTPStatus(err)
	attrs := []any{
		"request_id", requestIDFromContext(r.Context()),
		"operation", operation,
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed", attrs...)
	} else {
		rt.logger.Warn("request_failed", attrs...)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (rt *Router) recordRAG(endpoint string, passages int, degraded bool, duration time.Duration) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.RecordRAGObservation(serviceName, endpoint, passages, degraded, duration)
}

func (rt *Router) recordRateLimited(path string) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.RecordRateLimited(serviceName, path)
}

// uploadKey keeps only the base name of a client-supplied file name.
func uploadKey(filename string) string {
	return path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
}

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := decoder.Decode(out); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("trailing data after json body")
	}
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
