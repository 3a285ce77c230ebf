package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	DefaultVectorWeight        = 0.5
	DefaultKeywordWeight       = 0.5
	DefaultRRFK                = 20.0
	DefaultSimilarityThreshold = 0.3
	DefaultTopK                = 5
	DefaultDisplayCount        = 3
	DefaultRerankerModel       = "cohere-rerank-3.5"
	DefaultRerankTimeout       = 10 * time.Second

	// MaxRequestCount caps per-request top_k and display_count overrides.
	MaxRequestCount = 50
)

// RetrievalConfig is built once per session and shared read-only by every
// query. Pass it by value.
type RetrievalConfig struct {
	VectorWeight        float64       `json:"vector_weight"`
	KeywordWeight       float64       `json:"keyword_weight"`
	RRFK                float64       `json:"rrf_k"`
	SimilarityThreshold float64       `json:"similarity_threshold"`
	TopK                int           `json:"top_k"`
	EnableReranking     bool          `json:"enable_reranking"`
	RerankerModel       string        `json:"reranker_model"`
	RerankTopN          int           `json:"rerank_top_n"`
	RerankTimeout       time.Duration `json:"rerank_timeout"`
	DisplayCount        int           `json:"display_count"`
}

func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		VectorWeight:        DefaultVectorWeight,
		KeywordWeight:       DefaultKeywordWeight,
		RRFK:                DefaultRRFK,
		SimilarityThreshold: DefaultSimilarityThreshold,
		TopK:                DefaultTopK,
		EnableReranking:     true,
		RerankerModel:       DefaultRerankerModel,
		RerankTopN:          DefaultTopK,
		RerankTimeout:       DefaultRerankTimeout,
		DisplayCount:        DefaultDisplayCount,
	}
}

// NewRetrievalConfig fills zero-valued optional fields and validates the result.
func NewRetrievalConfig(cfg RetrievalConfig) (RetrievalConfig, error) {
	if strings.TrimSpace(cfg.RerankerModel) == "" {
		cfg.RerankerModel = DefaultRerankerModel
	}
	if cfg.RerankTopN <= 0 {
		cfg.RerankTopN = cfg.TopK
	}
	if cfg.RerankTimeout <= 0 {
		cfg.RerankTimeout = DefaultRerankTimeout
	}
	if cfg.DisplayCount <= 0 {
		cfg.DisplayCount = cfg.TopK
	}
	if err := cfg.Validate(); err != nil {
		return RetrievalConfig{}, err
	}
	return cfg, nil
}

// CheckRequestCount validates one per-request count override.
func CheckRequestCount(name string, v int) error {
	if v < 1 || v > MaxRequestCount {
		return WrapError(ErrInvalidInput, "retrieval request", fmt.Errorf("%s must be between 1 and %d, got %d", name, MaxRequestCount, v))
	}
	return nil
}

func (c RetrievalConfig) Validate() error {
	var errs []error
	if c.VectorWeight < 0 || math.IsNaN(c.VectorWeight) {
		errs = append(errs, fmt.Errorf("vector_weight must be >= 0, got %v", c.VectorWeight))
	}
	if c.KeywordWeight < 0 || math.IsNaN(c.KeywordWeight) {
		errs = append(errs, fmt.Errorf("keyword_weight must be >= 0, got %v", c.KeywordWeight))
	}
	if c.VectorWeight == 0 && c.KeywordWeight == 0 {
		errs = append(errs, errors.New("at least one channel weight must be positive"))
	}
	if c.RRFK <= 0 || math.IsNaN(c.RRFK) || math.IsInf(c.RRFK, 0) {
		errs = append(errs, fmt.Errorf("rrf_k must be > 0, got %v", c.RRFK))
	}
	if math.IsNaN(c.SimilarityThreshold) {
		errs = append(errs, errors.New("similarity_threshold must be a number"))
	}
	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("top_k must be > 0, got %d", c.TopK))
	}
	if c.DisplayCount <= 0 {
		errs = append(errs, fmt.Errorf("display_count must be > 0, got %d", c.DisplayCount))
	}
	if len(errs) > 0 {
		return WrapError(ErrConfiguration, "validate retrieval config", errors.Join(errs...))
	}
	return nil
}

type RetrievalStatus string

const (
	StatusOK           RetrievalStatus = "ok"
	StatusNoCandidates RetrievalStatus = "no_candidates"
	// StatusError is only reported to observers; failed retrievals return no result.
	StatusError RetrievalStatus = "error"
)

// RetrievedPassage is a final, citation-annotated result.
type RetrievedPassage struct {
	Result   FusedResult `json:"result"`
	Citation Citation    `json:"citation"`
}

type RetrievalResult struct {
	Query            string             `json:"query"`
	Status           RetrievalStatus    `json:"status"`
	Items            []RetrievedPassage `json:"items"`
	VectorCount      int                `json:"vector_count"`
	KeywordCount     int                `json:"keyword_count"`
	VectorTopScore   *float64           `json:"vector_top_score,omitempty"`
	KeywordTopScore  *float64           `json:"keyword_top_score,omitempty"`
	FusedTopScore    float64            `json:"fused_top_score"`
	Reranked         bool               `json:"reranked"`
	DegradedChannels []Channel          `json:"degraded_channels,omitempty"`
}

func (r *RetrievalResult) Empty() bool {
	return r == nil || r.Status == StatusNoCandidates
}

type Answer struct {
	Text      string             `json:"text"`
	Status    RetrievalStatus    `json:"status"`
	Degraded  bool               `json:"degraded,omitempty"`
	Sources   []RetrievedPassage `json:"sources"`
	Retrieval *RetrievalResult   `json:"retrieval,omitempty"`
}
