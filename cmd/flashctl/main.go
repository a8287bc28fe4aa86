package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"flash-agent/internal/app"
	"flash-agent/internal/config"
	"flash-agent/internal/logger"
)

var (
	logLevel string
	limit    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flashctl",
		Short: "Run the flashcard workflows from the command line",
		Long: `Run the flashcard creation and answer-checking workflows without the HTTP API.

Configuration is read from the environment (and .env), like the server.

Examples:
  flashctl generate notes.pdf
  flashctl check 12 "A mitocôndria produz ATP"
  flashctl list
  flashctl due --limit 10`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "generate <pdf>",
			Short: "Create flashcards from a PDF",
			Args:  cobra.ExactArgs(1),
			RunE:  runGenerate,
		},
		&cobra.Command{
			Use:   "check <flashcard-id> <answer>",
			Short: "Grade an answer against a stored flashcard",
			Args:  cobra.MinimumNArgs(2),
			RunE:  runCheck,
		},
		&cobra.Command{
			Use:   "list",
			Short: "List flashcards held by the store",
			Args:  cobra.NoArgs,
			RunE:  runList,
		},
	)

	dueCmd := &cobra.Command{
		Use:   "due",
		Short: "Show flashcards whose next review is due",
		Args:  cobra.NoArgs,
		RunE:  runDue,
	}
	dueCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of cards")

	docsCmd := &cobra.Command{
		Use:   "documents",
		Short: "Show recently processed uploads",
		Args:  cobra.NoArgs,
		RunE:  runDocuments,
	}
	docsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of documents")

	rootCmd.AddCommand(dueCmd, docsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg := config.Load()
	log := logger.New(logger.Options{Level: logLevel, Format: "text"})
	log.SetOutput(cmd.ErrOrStderr())

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		result, err := a.Flashcards.GenerateFromPDF(ctx, filepath.Base(args[0]), data)
		if err != nil {
			return err
		}
		if result.Truncated {
			fmt.Fprintln(cmd.ErrOrStderr(), "note: document text was truncated to fit the token budget")
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.Response)
		return nil
	})
}

func runCheck(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("flashcard id must be a positive integer, got %q", args[0])
	}
	answer := strings.TrimSpace(strings.Join(args[1:], " "))
	if answer == "" {
		return fmt.Errorf("answer is required")
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		result, err := a.Flashcards.CheckAnswer(ctx, id, answer)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	})
}

func runList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		cards, err := a.Store.List(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, cards)
	})
}

func runDue(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		cards, err := a.Reviews.Due(ctx, limit)
		if err != nil {
			return err
		}
		return printJSON(cmd, cards)
	})
}

func runDocuments(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		docs, err := a.Documents.List(ctx, limit)
		if err != nil {
			return err
		}
		return printJSON(cmd, docs)
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
