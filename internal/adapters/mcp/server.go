package mcpadapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
	"github.com/kirillkom/hybrid-rag/internal/core/ports"
	"github.com/kirillkom/hybrid-rag/internal/core/usecase"
)

const (
	serverName    = "hybrid-rag"
	serverVersion = "0.1.0"

	ToolRetrievePassages = "retrieve_passages"
	ToolAnswerQuestion   = "answer_question"
)

// Tools exposes retrieval and answering as MCP tools.
type Tools struct {
	retriever ports.Retriever
	answerer  ports.QuestionAnswerer
	retrieval domain.RetrievalConfig
	logger    *slog.Logger
}

func NewTools(retriever ports.Retriever, answerer ports.QuestionAnswerer, retrieval domain.RetrievalConfig, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{
		retriever: retriever,
		answerer:  answerer,
		retrieval: retrieval,
		logger:    logger,
	}
}

// NewServer registers the tools on a fresh MCP server. answer_question is
// only registered when an answerer is available.
func NewServer(tools *Tools) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Hybrid vector + BM25 retrieval over the indexed corpus. Results carry source, page and chunk citations."),
	)

	s.AddTool(mcp.NewTool(ToolRetrievePassages,
		mcp.WithDescription("Retrieve the most relevant corpus passages for a query using hybrid vector and keyword search."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language query.")),
		mcp.WithNumber("top_k", mcp.Description("Candidates requested from each channel."), mcp.Min(1), mcp.Max(domain.MaxRequestCount)),
		mcp.WithNumber("display_count", mcp.Description("Number of passages to return."), mcp.Min(1), mcp.Max(domain.MaxRequestCount)),
	), tools.RetrievePassages)

	if tools.answerer != nil {
		s.AddTool(mcp.NewTool(ToolAnswerQuestion,
			mcp.WithDescription("Answer a question grounded in retrieved corpus passages, with citations."),
			mcp.WithString("question", mcp.Required(), mcp.Description("The question to answer.")),
		), tools.AnswerQuestion)
	}
	return s
}

func (t *Tools) RetrievePassages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	cfg := t.retrieval
	args := req.GetArguments()
	for name, dst := range map[string]*int{"top_k": &cfg.TopK, "display_count": &cfg.DisplayCount} {
		if _, ok := args[name]; !ok {
			continue
		}
		v := req.GetInt(name, 0)
		if err := domain.CheckRequestCount(name, v); err != nil {
			return mcp.NewToolResultErrorFromErr("invalid retrieval parameters", err), nil
		}
		*dst = v
	}
	if err := cfg.Validate(); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid retrieval parameters", err), nil
	}

	result, err := t.retriever.Retrieve(ctx, query, cfg)
	if err != nil {
		t.logger.Warn("mcp_tool_failed", "tool", ToolRetrievePassages, "error", err)
		return mcp.NewToolResultErrorFromErr("retrieval failed", err), nil
	}
	return mcp.NewToolResultStructured(result, renderRetrieval(result)), nil
}

func (t *Tools) AnswerQuestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("question is required"), nil
	}

	answer, err := t.answerer.Answer(ctx, question)
	if err != nil {
		t.logger.Warn("mcp_tool_failed", "tool", ToolAnswerQuestion, "error", err)
		return mcp.NewToolResultErrorFromErr("answer failed", err), nil
	}

	var b strings.Builder
	b.WriteString(answer.Text)
	if sources := usecase.FormatSources(answer.Sources); len(sources) > 0 {
		b.WriteString("\n\nSources:\n")
		b.WriteString(strings.Join(sources, "\n"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func renderRetrieval(result *domain.RetrievalResult) string {
	if result.Empty() || len(result.Items) == 0 {
		return "No relevant passages found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "vector=%d keyword=%d reranked=%t\n\n", result.VectorCount, result.KeywordCount, result.Reranked)
	b.WriteString(usecase.BuildContext(result.Items))
	return b.String()
}
