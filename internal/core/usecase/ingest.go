package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
	"github.com/kirillkom/hybrid-rag/internal/core/ports"
)

const defaultEmbedBatchSize = 64

// IngestCorpusUseCase loads a corpus file, embeds every passage and writes the
// vectors and the passage snapshot. It runs as a separate phase from serving.
type IngestCorpusUseCase struct {
	source    ports.CorpusSource
	embedder  ports.Embedder
	index     ports.VectorIndex
	repo      ports.PassageRepository
	queue     ports.MessageQueue
	batchSize int
	logger    *slog.Logger
}

func NewIngestCorpusUseCase(
	source ports.CorpusSource,
	embedder ports.Embedder,
	index ports.VectorIndex,
	repo ports.PassageRepository,
	queue ports.MessageQueue,
	batchSize int,
	logger *slog.Logger,
) *IngestCorpusUseCase {
	if batchSize <= 0 {
		batchSize = defaultEmbedBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestCorpusUseCase{
		source:    source,
		embedder:  embedder,
		index:     index,
		repo:      repo,
		queue:     queue,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Enqueue publishes an ingestion job for an indexer process.
func (uc *IngestCorpusUseCase) Enqueue(ctx context.Context, corpusPath string) (ports.IngestJob, error) {
	corpusPath = strings.TrimSpace(corpusPath)
	if corpusPath == "" {
		return ports.IngestJob{}, domain.WrapError(domain.ErrInvalidInput, "enqueue ingest", errors.New("corpus path is required"))
	}
	if uc.queue == nil {
		return ports.IngestJob{}, domain.WrapError(domain.ErrConfiguration, "enqueue ingest", errors.New("message queue is not configured"))
	}
	job := ports.IngestJob{ID: uuid.NewString(), CorpusPath: corpusPath, EnqueuedAt: time.Now().UTC()}
	if err := uc.queue.PublishIngestJob(ctx, job); err != nil {
		return ports.IngestJob{}, fmt.Errorf("publish ingest job: %w", err)
	}
	return job, nil
}

// HandleJob is the queue subscription handler.
func (uc *IngestCorpusUseCase) HandleJob(ctx context.Context, job ports.IngestJob) error {
	report, err := uc.IngestFile(ctx, job.CorpusPath)
	if err != nil {
		uc.logger.Error("ingest_job_failed", "job_id", job.ID, "corpus_path", job.CorpusPath, "error", err)
		return err
	}
	uc.logger.Info("ingest_job_completed",
		"job_id", job.ID,
		"corpus_path", job.CorpusPath,
		"passages", report.Passages,
		"indexed", report.Indexed,
		"persisted", report.Persisted,
		"removed", report.Removed,
	)
	return nil
}

func (uc *IngestCorpusUseCase) IngestFile(ctx context.Context, corpusPath string) (ports.IngestReport, error) {
	passages, err := uc.source.Load(ctx, corpusPath)
	if err != nil {
		return ports.IngestReport{}, err
	}
	if len(passages) == 0 {
		return ports.IngestReport{}, domain.WrapError(domain.ErrDataLoad, "ingest corpus", errors.New("corpus contains no passages"))
	}

	report := ports.IngestReport{Passages: len(passages)}
	if uc.embedder != nil && uc.index != nil {
		indexed, err := uc.indexPassages(ctx, passages)
		if err != nil {
			return report, err
		}
		report.Indexed = indexed

		removed, err := uc.pruneStale(ctx, passages)
		if err != nil {
			return report, err
		}
		report.Removed = removed
	}

	if uc.repo != nil {
		saved, err := uc.repo.SavePassages(ctx, passages)
		if err != nil {
			return report, fmt.Errorf("persist passages: %w", err)
		}
		report.Persisted = saved
	}
	return report, nil
}

func (uc *IngestCorpusUseCase) indexPassages(ctx context.Context, passages []domain.Passage) (int, error) {
	ensured := false
	indexed := 0
	for start := 0; start < len(passages); start += uc.batchSize {
		end := min(start+uc.batchSize, len(passages))
		batch := make([]domain.Passage, end-start)
		copy(batch, passages[start:end])

		vectors, err := uc.embed(ctx, batch)
		if err != nil {
			return indexed, err
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}

		if !ensured {
			if err := uc.index.EnsureCollection(ctx, len(vectors[0])); err != nil {
				return indexed, fmt.Errorf("ensure vector collection: %w", err)
			}
			ensured = true
		}
		if err := uc.index.Upsert(ctx, batch); err != nil {
			return indexed, fmt.Errorf("upsert passages: %w", err)
		}
		indexed += len(batch)
	}
	return indexed, nil
}

// pruneStale deletes vectors whose passages are no longer in the corpus. It
// runs after the upsert so the index never lacks a current passage.
func (uc *IngestCorpusUseCase) pruneStale(ctx context.Context, passages []domain.Passage) (int, error) {
	stored, err := uc.index.ListIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list indexed passages: %w", err)
	}
	current := make(map[string]struct{}, len(passages))
	for _, p := range passages {
		current[p.ID] = struct{}{}
	}
	var stale []string
	for _, id := range stored {
		if _, ok := current[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := uc.index.Delete(ctx, stale); err != nil {
		return 0, fmt.Errorf("delete stale passages: %w", err)
	}
	uc.logger.Info("stale_passages_removed", "count", len(stale))
	return len(stale), nil
}

func (uc *IngestCorpusUseCase) embed(ctx context.Context, batch []domain.Passage) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.Text
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed passages: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed passages",
			fmt.Errorf("vectors/passages mismatch: %d/%d", len(vectors), len(texts)),
		)
	}
	for _, v := range vectors {
		if len(v) == 0 || len(v) != len(vectors[0]) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "embed passages", errors.New("inconsistent embedding dimension"))
		}
	}
	return vectors, nil
}
