package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
)

const (
	VectorBackendQdrant = "qdrant"
	VectorBackendMemory = "memory"

	PassageSourceFile     = "file"
	PassageSourcePostgres = "postgres"
)

type Config struct {
	APIPort  string
	LogLevel string

	CorpusPath     string
	PassageSource  string
	ChunkingMode   string
	ChunkSize      int
	ChunkOverlap   int
	Dedup          bool
	EmbedBatchSize int
	StoragePath    string

	StopwordsFile     string
	DictionaryFiles   []string
	DisableDictionary bool

	VectorBackend    string
	QdrantURL        string
	QdrantCollection string
	QdrantAPIKey     string

	ChatBaseURL     string
	ChatAPIKey      string
	ChatModel       string
	EmbeddingModel  string
	ChatTemperature float64
	LLMTimeout      time.Duration
	AnswerTimeout   time.Duration

	PineconeBaseURL string
	PineconeAPIKey  string

	VectorWeight        float64
	KeywordWeight       float64
	RRFK                float64
	SimilarityThreshold float64
	TopK                int
	DisplayCount        int
	EnableReranking     bool
	RerankerModel       string
	RerankTopN          int
	RerankTimeout       time.Duration

	PostgresDSN string

	NATSURL     string
	NATSSubject string

	RateLimitRPS   float64
	RateLimitBurst int

	WorkerMetricsPort string
}

// fileOverlay is the optional YAML file named by CONFIG_FILE. Environment
// variables take precedence over it.
type fileOverlay struct {
	Retrieval struct {
		VectorWeight        *float64 `yaml:"vector_weight"`
		KeywordWeight       *float64 `yaml:"keyword_weight"`
		RRFK                *float64 `yaml:"rrf_k"`
		SimilarityThreshold *float64 `yaml:"similarity_threshold"`
		TopK                *int     `yaml:"top_k"`
		DisplayCount        *int     `yaml:"display_count"`
		EnableReranking     *bool    `yaml:"enable_reranking"`
		RerankerModel       *string  `yaml:"reranker_model"`
		RerankTopN          *int     `yaml:"rerank_top_n"`
		RerankTimeout       *string  `yaml:"rerank_timeout"`
	} `yaml:"retrieval"`
	Chunking struct {
		Mode    *string `yaml:"mode"`
		Size    *int    `yaml:"size"`
		Overlap *int    `yaml:"overlap"`
		Dedup   *bool   `yaml:"dedup"`
	} `yaml:"chunking"`
	Lexical struct {
		StopwordsFile   *string  `yaml:"stopwords_file"`
		DictionaryFiles []string `yaml:"dictionary_files"`
	} `yaml:"lexical"`
}

func defaults() Config {
	retrieval := domain.DefaultRetrievalConfig()
	return Config{
		APIPort:  "8080",
		LogLevel: "info",

		CorpusPath:     "data/ocr_data.json",
		PassageSource:  PassageSourceFile,
		ChunkingMode:   "sentence",
		ChunkSize:      300,
		ChunkOverlap:   50,
		Dedup:          true,
		EmbedBatchSize: 64,
		StoragePath:    "./data/corpus",

		VectorBackend:    VectorBackendQdrant,
		QdrantURL:        "http://localhost:6333",
		QdrantCollection: "rag_collection",

		ChatBaseURL:     "https://api.openai.com/v1",
		ChatModel:       "gpt-4o-mini",
		EmbeddingModel:  "text-embedding-3-small",
		ChatTemperature: 0.2,
		LLMTimeout:      120 * time.Second,
		AnswerTimeout:   60 * time.Second,

		VectorWeight:        retrieval.VectorWeight,
		KeywordWeight:       retrieval.KeywordWeight,
		RRFK:                retrieval.RRFK,
		SimilarityThreshold: retrieval.SimilarityThreshold,
		TopK:                retrieval.TopK,
		DisplayCount:        retrieval.DisplayCount,
		EnableReranking:     retrieval.EnableReranking,
		RerankerModel:       retrieval.RerankerModel,
		RerankTopN:          retrieval.RerankTopN,
		RerankTimeout:       retrieval.RerankTimeout,

		NATSSubject: "corpus.ingest",

		RateLimitRPS:   10,
		RateLimitBurst: 20,

		WorkerMetricsPort: "9090",
	}
}

// Load builds the configuration from defaults, the optional CONFIG_FILE
// overlay and environment variables, in that order.
func Load() (Config, error) {
	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.APIPort = mustEnv("API_PORT", cfg.APIPort)
	cfg.LogLevel = mustEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.CorpusPath = mustEnv("CORPUS_PATH", cfg.CorpusPath)
	cfg.PassageSource = strings.ToLower(mustEnv("PASSAGE_SOURCE", cfg.PassageSource))
	cfg.ChunkingMode = strings.ToLower(mustEnv("CHUNKING_MODE", cfg.ChunkingMode))
	cfg.ChunkSize = mustEnvInt("CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = mustEnvInt("CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.Dedup = mustEnvBool("CORPUS_DEDUP", cfg.Dedup)
	cfg.EmbedBatchSize = mustEnvInt("EMBED_BATCH_SIZE", cfg.EmbedBatchSize)
	cfg.StoragePath = mustEnv("STORAGE_PATH", cfg.StoragePath)

	cfg.StopwordsFile = mustEnv("STOPWORDS_FILE", cfg.StopwordsFile)
	cfg.DictionaryFiles = mustEnvList("SEGMENTER_DICT_FILES", cfg.DictionaryFiles)
	cfg.DisableDictionary = mustEnvBool("SEGMENTER_DISABLE_DICTIONARY", cfg.DisableDictionary)

	cfg.VectorBackend = strings.ToLower(mustEnv("VECTOR_BACKEND", cfg.VectorBackend))
	cfg.QdrantURL = mustEnv("QDRANT_URL", cfg.QdrantURL)
	cfg.QdrantCollection = mustEnv("QDRANT_COLLECTION", cfg.QdrantCollection)
	cfg.QdrantAPIKey = mustEnv("QDRANT_API_KEY", cfg.QdrantAPIKey)

	cfg.ChatBaseURL = mustEnv("CHAT_BASE_URL", cfg.ChatBaseURL)
	cfg.ChatAPIKey = mustEnv("CHAT_API_KEY", mustEnv("OPENAI_API_KEY", cfg.ChatAPIKey))
	cfg.ChatModel = mustEnv("CHAT_MODEL", cfg.ChatModel)
	cfg.EmbeddingModel = mustEnv("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.ChatTemperature = mustEnvFloat("CHAT_TEMPERATURE", cfg.ChatTemperature)
	cfg.LLMTimeout = mustEnvDuration("LLM_TIMEOUT", cfg.LLMTimeout)
	cfg.AnswerTimeout = mustEnvDuration("ANSWER_TIMEOUT", cfg.AnswerTimeout)

	cfg.PineconeBaseURL = mustEnv("PINECONE_BASE_URL", cfg.PineconeBaseURL)
	cfg.PineconeAPIKey = mustEnv("PINECONE_API_KEY", cfg.PineconeAPIKey)

	cfg.VectorWeight = mustEnvFloat("RAG_VECTOR_WEIGHT", cfg.VectorWeight)
	cfg.KeywordWeight = mustEnvFloat("RAG_KEYWORD_WEIGHT", cfg.KeywordWeight)
	cfg.RRFK = mustEnvFloat("RAG_RRF_K", cfg.RRFK)
	cfg.SimilarityThreshold = mustEnvFloat("RAG_SIMILARITY_THRESHOLD", cfg.SimilarityThreshold)
	cfg.TopK = mustEnvInt("RAG_TOP_K", cfg.TopK)
	cfg.DisplayCount = mustEnvInt("RAG_DISPLAY_COUNT", cfg.DisplayCount)
	cfg.EnableReranking = mustEnvBool("RAG_ENABLE_RERANKING", cfg.EnableReranking)
	cfg.RerankerModel = mustEnv("RAG_RERANKER_MODEL", cfg.RerankerModel)
	cfg.RerankTopN = mustEnvInt("RAG_RERANK_TOP_N", cfg.RerankTopN)
	cfg.RerankTimeout = mustEnvDuration("RAG_RERANK_TIMEOUT", cfg.RerankTimeout)

	cfg.PostgresDSN = mustEnv("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.NATSURL = mustEnv("NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = mustEnv("NATS_SUBJECT", cfg.NATSSubject)

	cfg.RateLimitRPS = mustEnvFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = mustEnvInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)

	cfg.WorkerMetricsPort = mustEnv("WORKER_METRICS_PORT", cfg.WorkerMetricsPort)
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.WrapError(domain.ErrConfiguration, "read config file", err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return domain.WrapError(domain.ErrConfiguration, "decode config file", err)
	}

	r := overlay.Retrieval
	setIf(&c.VectorWeight, r.VectorWeight)
	setIf(&c.KeywordWeight, r.KeywordWeight)
	setIf(&c.RRFK, r.RRFK)
	setIf(&c.SimilarityThreshold, r.SimilarityThreshold)
	setIf(&c.TopK, r.TopK)
	setIf(&c.DisplayCount, r.DisplayCount)
	setIf(&c.EnableReranking, r.EnableReranking)
	setIf(&c.RerankerModel, r.RerankerModel)
	setIf(&c.RerankTopN, r.RerankTopN)
	if r.RerankTimeout != nil {
		d, err := time.ParseDuration(*r.RerankTimeout)
		if err != nil {
			return domain.WrapError(domain.ErrConfiguration, "decode config file", fmt.Errorf("rerank_timeout: %w", err))
		}
		c.RerankTimeout = d
	}

	ch := overlay.Chunking
	setIf(&c.ChunkingMode, ch.Mode)
	setIf(&c.ChunkSize, ch.Size)
	setIf(&c.ChunkOverlap, ch.Overlap)
	setIf(&c.Dedup, ch.Dedup)

	setIf(&c.StopwordsFile, overlay.Lexical.StopwordsFile)
	if len(overlay.Lexical.DictionaryFiles) > 0 {
		c.DictionaryFiles = overlay.Lexical.DictionaryFiles
	}
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Validate checks startup preconditions. Every failure is fatal.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ChatAPIKey) == "" {
		errs = append(errs, errors.New("CHAT_API_KEY (or OPENAI_API_KEY) is required"))
	}
	switch c.VectorBackend {
	case VectorBackendQdrant, VectorBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported VECTOR_BACKEND %q", c.VectorBackend))
	}
	switch c.PassageSource {
	case PassageSourceFile:
	case PassageSourcePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("PASSAGE_SOURCE=postgres requires POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported PASSAGE_SOURCE %q", c.PassageSource))
	}
	if len(errs) > 0 {
		return domain.WrapError(domain.ErrConfiguration, "validate config", errors.Join(errs...))
	}
	if _, err := c.RetrievalConfig(); err != nil {
		return err
	}
	return nil
}

// RetrievalConfig builds the immutable per-session retrieval settings.
// Reranking is switched off when no reranker credential is configured.
func (c Config) RetrievalConfig() (domain.RetrievalConfig, error) {
	return domain.NewRetrievalConfig(domain.RetrievalConfig{
		VectorWeight:        c.VectorWeight,
		KeywordWeight:       c.KeywordWeight,
		RRFK:                c.RRFK,
		SimilarityThreshold: c.SimilarityThreshold,
		TopK:                c.TopK,
		EnableReranking:     c.EnableReranking && c.RerankerAvailable(),
		RerankerModel:       c.RerankerModel,
		RerankTopN:          c.RerankTopN,
		RerankTimeout:       c.RerankTimeout,
		DisplayCount:        c.DisplayCount,
	})
}

func (c Config) RerankerAvailable() bool {
	return strings.TrimSpace(c.PineconeAPIKey) != ""
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// mustEnvDuration accepts Go durations ("750ms") or whole seconds ("10").
func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
