package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
)

type retrieverFake struct {
	result *domain.RetrievalResult
	err    error
	query  string
}

func (f *retrieverFake) Retrieve(_ context.Context, query string, _ domain.RetrievalConfig) (*domain.RetrievalResult, error) {
	f.query = query
	return f.result, f.err
}

type completerFake struct {
	text   string
	err    error
	prompt string
	system string
}

func (f *completerFake) Complete(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	f.system = systemPrompt
	f.prompt = userPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func sampleRetrieval() *domain.RetrievalResult {
	return &domain.RetrievalResult{
		Query:  "apple dessert",
		Status: domain.StatusOK,
		Items: []domain.RetrievedPassage{{
			Result: domain.FusedResult{Passage: domain.Passage{ID: "1", Text: "apple pie recipe"}, Score: 0.047},
			Citation: domain.Citation{
				SourceLabel: "a.pdf",
				Page:        domain.IntPtr(2),
				ChunkIndex:  1,
				ChunkCount:  3,
				Preview:     "apple pie recipe",
			},
		}},
	}
}

func TestAnswerUseCaseBuildsGroundedPrompt(t *testing.T) {
	completer := &completerFake{text: "  Bake the apple pie.  "}
	uc := NewAnswerUseCase(&retrieverFake{result: sampleRetrieval()}, completer, domain.DefaultRetrievalConfig(), 0, nil)

	answer, err := uc.Answer(context.Background(), "apple dessert")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Text != "Bake the apple pie." {
		t.Fatalf("unexpected answer %q", answer.Text)
	}
	for _, want := range []string{"[Doc 1]", "source: a.pdf", "page: 2", "chunk: 1/3", "apple pie recipe", "Question: apple dessert"} {
		if !strings.Contains(completer.prompt, want) {
			t.Fatalf("expected prompt to contain %q, got:\n%s", want, completer.prompt)
		}
	}
	if len(answer.Sources) != 1 || answer.Degraded {
		t.Fatalf("unexpected answer %+v", answer)
	}
}

func TestAnswerUseCaseUsesNoContextPromptForEmptyRetrieval(t *testing.T) {
	completer := &completerFake{text: "I cannot answer."}
	empty := &domain.RetrievalResult{Status: domain.StatusNoCandidates}
	uc := NewAnswerUseCase(&retrieverFake{result: empty}, completer, domain.DefaultRetrievalConfig(), 0, nil)

	answer, err := uc.Answer(context.Background(), "unknown topic")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !strings.Contains(completer.prompt, "No relevant context was found") {
		t.Fatalf("expected no-context prompt, got %q", completer.prompt)
	}
	if answer.Status != domain.StatusNoCandidates || answer.Sources == nil {
		t.Fatalf("unexpected answer %+v", answer)
	}
}

func TestAnswerUseCaseDegradesOnTemporaryModelFailure(t *testing.T) {
	completer := &completerFake{err: domain.WrapError(domain.ErrTemporary, "chat completion", errors.New("503"))}
	uc := NewAnswerUseCase(&retrieverFake{result: sampleRetrieval()}, completer, domain.DefaultRetrievalConfig(), 0, nil)

	answer, err := uc.Answer(context.Background(), "apple dessert")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !answer.Degraded || !strings.Contains(answer.Text, "a.pdf") {
		t.Fatalf("expected degraded answer listing sources, got %+v", answer)
	}
}

func TestAnswerUseCaseFailsOnPermanentModelError(t *testing.T) {
	completer := &completerFake{err: errors.New("401 unauthorized")}
	uc := NewAnswerUseCase(&retrieverFake{result: sampleRetrieval()}, completer, domain.DefaultRetrievalConfig(), 0, nil)
	if _, err := uc.Answer(context.Background(), "apple dessert"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAnswerUseCasePropagatesRetrievalFailure(t *testing.T) {
	retrievalErr := domain.WrapError(domain.ErrRetrievalUnavailable, "retrieve", errors.New("both down"))
	uc := NewAnswerUseCase(&retrieverFake{err: retrievalErr}, &completerFake{}, domain.DefaultRetrievalConfig(), 0, nil)
	_, err := uc.Answer(context.Background(), "q")
	if !domain.IsKind(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("expected retrieval unavailable, got %v", err)
	}
}

func TestAnswerUseCaseRejectsBlankQuestion(t *testing.T) {
	uc := NewAnswerUseCase(&retrieverFake{}, &completerFake{}, domain.DefaultRetrievalConfig(), 0, nil)
	if _, err := uc.Answer(context.Background(), " "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestFormatSourcesUsesUnknownPage(t *testing.T) {
	lines := FormatSources([]domain.RetrievedPassage{{Citation: domain.Citation{SourceLabel: "x", Preview: "p"}}})
	if len(lines) != 1 || !strings.Contains(lines[0], "page: unknown") {
		t.Fatalf("unexpected lines %v", lines)
	}
}
