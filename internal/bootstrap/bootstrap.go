package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/hybrid-rag/internal/config"
	"github.com/kirillkom/hybrid-rag/internal/core/domain"
	"github.com/kirillkom/hybrid-rag/internal/core/ports"
	"github.com/kirillkom/hybrid-rag/internal/core/usecase"
	"github.com/kirillkom/hybrid-rag/internal/infrastructure/chunking"
	"github.com/kirillkom/hybrid-rag/internal/infrastructure/corpus"
	"github.com/kirillkom/hybrid-rag/internal/infrastructure/lexical"
	"github.com/kirillkom/hybrid-rag/internal/infrastructure/llm/openai"
	"github.com/kirillkom/hybrid-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/hybrid-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/hybrid-rag/internal/infrastructure/rerank/pinecone"
	"github.com/kirillkom/hybrid-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/hybrid-rag/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/hybrid-rag/internal/infrastructure/vector/memory"
	"github.com/kirillkom/hybrid-rag/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/hybrid-rag/internal/observability/metrics"
)

// App is one retrieval session: configuration, indexes and use cases are
// built once here and shared read-only by every query.
type App struct {
	Config    config.Config
	Retrieval domain.RetrievalConfig
	Logger    *slog.Logger

	RetrieveUC *usecase.RetrieveUseCase
	AnswerUC   *usecase.AnswerUseCase
	IngestUC   *usecase.IngestCorpusUseCase
	Uploads    *localfs.Storage

	Queue *nats.Queue

	closers []func()
}

// infra holds the adapters shared by the serving and indexing phases.
type infra struct {
	executor *resilience.Executor
	llm      *openai.Client
	embedder *openai.Embedder
	index    ports.VectorIndex
	loader   *corpus.Loader
	repo     *postgres.PassageRepository
	queue    *nats.Queue
	closers  []func()
}

func (i *infra) close() {
	for j := len(i.closers) - 1; j >= 0; j-- {
		i.closers[j]()
	}
}

// New builds a serving session. registerer may be nil to skip pipeline metrics.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, registerer prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	retrievalCfg, err := cfg.RetrievalConfig()
	if err != nil {
		return nil, err
	}

	var (
		retrievalObserver  usecase.RetrievalObserver
		rerankObserver     usecase.RerankObserver
		resilienceObserver resilience.Observer
	)
	if registerer != nil {
		m := metrics.NewRetrievalMetrics("api", registerer)
		retrievalObserver, rerankObserver, resilienceObserver = m, m, m
	}

	in, err := newInfra(ctx, cfg, logger, resilienceObserver)
	if err != nil {
		return nil, err
	}

	passages, err := loadSnapshot(ctx, cfg, in)
	if err != nil {
		in.close()
		return nil, err
	}
	if cfg.VectorBackend == config.VectorBackendMemory {
		// The in-memory index lives only in this process, so it is filled here
		// before the first query is accepted.
		warmup := usecase.NewIngestCorpusUseCase(staticSource(passages), in.embedder, in.index, nil, nil, cfg.EmbedBatchSize, logger)
		report, err := warmup.IngestFile(ctx, cfg.CorpusPath)
		if err != nil {
			in.close()
			return nil, fmt.Errorf("index corpus in memory: %w", err)
		}
		logger.Info("memory_index_ready", "indexed", report.Indexed)
	}

	store := usecase.NewMetadataStore(passages)
	analyzer := lexical.NewAnalyzerWithFallback(lexical.AnalyzerOptions{
		StopwordsFile:     cfg.StopwordsFile,
		DictionaryFiles:   cfg.DictionaryFiles,
		DisableDictionary: cfg.DisableDictionary,
	}, logger)
	keywordIndex := lexical.Build(store.Passages(), analyzer)
	logger.Info("keyword_index_ready", "passages", keywordIndex.Size())

	var scorer ports.RelevanceScorer
	if cfg.RerankerAvailable() {
		scorer = pinecone.New(cfg.PineconeBaseURL, cfg.PineconeAPIKey, in.executor.WithConfig(resilience.RerankConfig(retrievalCfg.RerankTimeout)))
	} else {
		logger.Warn("reranker_unavailable", "reason", "PINECONE_API_KEY is not set")
	}

	retrieveUC := usecase.NewRetrieveUseCase(
		usecase.NewVectorRetriever(in.embedder, in.index),
		usecase.NewKeywordRetriever(keywordIndex),
		usecase.NewRerankStage(scorer, rerankObserver, logger),
		store,
		retrievalObserver,
		logger,
	)
	answerUC := usecase.NewAnswerUseCase(retrieveUC, openai.NewChatCompleter(in.llm), retrievalCfg, cfg.AnswerTimeout, logger)

	uploads, err := localfs.New(cfg.StoragePath)
	if err != nil {
		in.close()
		return nil, fmt.Errorf("init corpus storage: %w", err)
	}

	var queue ports.MessageQueue
	if in.queue != nil {
		queue = in.queue
	}
	ingestUC := usecase.NewIngestCorpusUseCase(in.loader, in.embedder, in.index, repoPort(in.repo), queue, cfg.EmbedBatchSize, logger)

	logger.Info("retrieval_session_ready",
		"passages", store.Len(),
		"vector_backend", cfg.VectorBackend,
		"reranking", retrievalCfg.EnableReranking,
		"vector_weight", retrievalCfg.VectorWeight,
		"keyword_weight", retrievalCfg.KeywordWeight,
		"rrf_k", retrievalCfg.RRFK,
	)

	return &App{
		Config:     cfg,
		Retrieval:  retrievalCfg,
		Logger:     logger,
		RetrieveUC: retrieveUC,
		AnswerUC:   answerUC,
		IngestUC:   ingestUC,
		Uploads:    uploads,
		Queue:      in.queue,
		closers:    in.closers,
	}, nil
}

// NewIndexer builds the ingestion phase only. It never loads a serving snapshot.
func NewIndexer(ctx context.Context, cfg config.Config, logger *slog.Logger, registerer prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.VectorBackend == config.VectorBackendMemory {
		return nil, domain.WrapError(domain.ErrConfiguration, "indexer", errors.New("memory vector backend is process-local; use VECTOR_BACKEND=qdrant"))
	}

	var resilienceObserver resilience.Observer
	if registerer != nil {
		resilienceObserver = metrics.NewRetrievalMetrics("indexer", registerer)
	}
	in, err := newInfra(ctx, cfg, logger, resilienceObserver)
	if err != nil {
		return nil, err
	}

	var queue ports.MessageQueue
	if in.queue != nil {
		queue = in.queue
	}
	return &App{
		Config:   cfg,
		Logger:   logger,
		IngestUC: usecase.NewIngestCorpusUseCase(in.loader, in.embedder, in.index, repoPort(in.repo), queue, cfg.EmbedBatchSize, logger),
		Queue:    in.queue,
		closers:  in.closers,
	}, nil
}

func newInfra(ctx context.Context, cfg config.Config, logger *slog.Logger, observer resilience.Observer) (*infra, error) {
	in := &infra{}
	in.executor = resilience.NewObservedExecutor(resilience.DefaultConfig(), logger, observer)

	in.llm = openai.New(openai.Config{
		BaseURL:        cfg.ChatBaseURL,
		APIKey:         cfg.ChatAPIKey,
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
		Temperature:    cfg.ChatTemperature,
		Timeout:        cfg.LLMTimeout,
	}, in.executor.WithConfig(resilience.ModelConfig(cfg.LLMTimeout)))
	in.embedder = openai.NewEmbedder(in.llm)

	switch cfg.VectorBackend {
	case config.VectorBackendMemory:
		in.index = memory.NewIndex()
	default:
		in.index = qdrant.New(cfg.QdrantURL, cfg.QdrantCollection,
			qdrant.WithAPIKey(cfg.QdrantAPIKey),
			qdrant.WithExecutor(in.executor),
		)
	}

	splitter, err := chunking.New(cfg.ChunkingMode, cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "init splitter", err)
	}
	in.loader = corpus.NewLoader(splitter, cfg.Dedup)

	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		in.closers = append(in.closers, func() { _ = db.Close() })
		repo := postgres.NewPassageRepository(db)
		if err := ensureSchema(ctx, repo); err != nil {
			in.close()
			return nil, err
		}
		in.repo = repo
	}

	if cfg.NATSURL != "" {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: in.executor,
			Logger:             logger,
		})
		if err != nil {
			in.close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		in.closers = append(in.closers, queue.Close)
		in.queue = queue
	}
	return in, nil
}

func ensureSchema(ctx context.Context, repo *postgres.PassageRepository) error {
	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := repo.EnsureSchema(schemaCtx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// loadSnapshot reads the corpus snapshot the keyword index and metadata
// store are built from. Any failure is fatal for the session.
func loadSnapshot(ctx context.Context, cfg config.Config, in *infra) ([]domain.Passage, error) {
	var source ports.CorpusSource = in.loader
	if cfg.PassageSource == config.PassageSourcePostgres {
		if in.repo == nil {
			return nil, domain.WrapError(domain.ErrConfiguration, "load snapshot", errors.New("postgres passage source requires POSTGRES_DSN"))
		}
		source = in.repo
	}
	passages, err := source.Load(ctx, cfg.CorpusPath)
	if err != nil {
		return nil, err
	}
	if len(passages) == 0 {
		return nil, domain.WrapError(domain.ErrDataLoad, "load snapshot", errors.New("corpus snapshot is empty"))
	}
	return passages, nil
}

// repoPort avoids storing a typed nil in the interface.
func repoPort(repo *postgres.PassageRepository) ports.PassageRepository {
	if repo == nil {
		return nil
	}
	return repo
}

type staticSource []domain.Passage

func (s staticSource) Load(context.Context, string) ([]domain.Passage, error) {
	return s, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
