package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kirillkom/hybrid-rag/internal/bootstrap"
	"github.com/kirillkom/hybrid-rag/internal/config"
	"github.com/kirillkom/hybrid-rag/internal/core/usecase"
	"github.com/kirillkom/hybrid-rag/internal/observability/logging"
)

func main() {
	retrieveOnly := flag.Bool("retrieve", false, "print ranked passages instead of generating an answer")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, "ask", cfg.LogLevel, logging.FormatText)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup error:", err)
		os.Exit(1)
	}
	defer app.Close()

	if question := strings.TrimSpace(strings.Join(flag.Args(), " ")); question != "" {
		if err := ask(ctx, app, question, *retrieveOnly); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		question := strings.TrimSpace(scanner.Text())
		switch question {
		case "":
		case "exit", "quit":
			return
		default:
			if err := ask(ctx, app, question, *retrieveOnly); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
		}
		if ctx.Err() != nil {
			return
		}
		fmt.Print("> ")
	}
}

func ask(ctx context.Context, app *bootstrap.App, question string, retrieveOnly bool) error {
	if retrieveOnly {
		result, err := app.RetrieveUC.Retrieve(ctx, question, app.Retrieval)
		if err != nil {
			return err
		}
		fmt.Printf("vector=%d keyword=%d reranked=%t fused_top=%.4f\n\n",
			result.VectorCount, result.KeywordCount, result.Reranked, result.FusedTopScore)
		if result.Empty() {
			fmt.Println("No relevant passages found.")
			return nil
		}
		fmt.Println(usecase.BuildContext(result.Items))
		return nil
	}

	answer, err := app.AnswerUC.Answer(ctx, question)
	if err != nil {
		return err
	}
	fmt.Println(answer.Text)
	if sources := usecase.FormatSources(answer.Sources); len(sources) > 0 {
		fmt.Println("\nSources:")
		fmt.Println(strings.Join(sources, "\n"))
	}
	fmt.Println()
	return nil
}
