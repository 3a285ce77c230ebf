package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
	"github.com/kirillkom/hybrid-rag/internal/core/ports"
)

const (
	defaultAnswerTimeout = 60 * time.Second
	noAnswerText         = "No relevant information was found to answer this question."
)

type retriever interface {
	Retrieve(ctx context.Context, query string, cfg domain.RetrievalConfig) (*domain.RetrievalResult, error)
}

// AnswerUseCase retrieves context for a question and asks the chat model for
// a grounded answer. When the model is unreachable the answer degrades to the
// retrieved sources.
type AnswerUseCase struct {
	retriever retriever
	completer ports.ChatCompleter
	cfg       domain.RetrievalConfig
	timeout   time.Duration
	logger    *slog.Logger
}

func NewAnswerUseCase(
	retriever retriever,
	completer ports.ChatCompleter,
	cfg domain.RetrievalConfig,
	timeout time.Duration,
	logger *slog.Logger,
) *AnswerUseCase {
	if timeout <= 0 {
		timeout = defaultAnswerTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerUseCase{
		retriever: retriever,
		completer: completer,
		cfg:       cfg,
		timeout:   timeout,
		logger:    logger,
	}
}

func (uc *AnswerUseCase) Answer(ctx context.Context, question string) (*domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("question is required"))
	}

	result, err := uc.retriever.Retrieve(ctx, question, uc.cfg)
	if err != nil {
		return nil, err
	}

	answer := &domain.Answer{
		Status:    result.Status,
		Sources:   result.Items,
		Retrieval: result,
	}
	if answer.Sources == nil {
		answer.Sources = []domain.RetrievedPassage{}
	}

	prompt := buildUserPrompt(BuildContext(result.Items), question)
	callCtx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	text, err := uc.completer.Complete(callCtx, answerSystemPrompt, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !domain.IsKind(err, domain.ErrTemporary) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("generate answer: %w", err)
		}
		uc.logger.Warn("answer_generation_degraded",
			"status", result.Status,
			"sources", len(result.Items),
			"error", err,
		)
		answer.Text = localAnswer(result)
		answer.Degraded = true
		return answer, nil
	}

	answer.Text = strings.TrimSpace(text)
	return answer, nil
}

// localAnswer lists the retrieved sources when the chat model cannot respond.
func localAnswer(result *domain.RetrievalResult) string {
	if result.Empty() || len(result.Items) == 0 {
		return noAnswerText
	}
	var b strings.Builder
	b.WriteString("The answer model is unavailable. Most relevant passages:\n")
	b.WriteString(strings.Join(FormatSources(result.Items), "\n"))
	return b.String()
}
