// Package main provides sentryctl, an operator CLI for the kamsentry worker:
// trigger an out-of-band detector retrain, inspect stream/queue stats, or
// list recent dead-lettered entries, all against the same service wiring
// the worker itself uses.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"kamsentry/internal/app"
	"kamsentry/internal/config"
	appErrors "kamsentry/pkg/errors"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	worker, err := app.NewWorker(cfg)
	if err != nil {
		log.Fatalf("failed to initialize service wiring: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var cmdErr error
	switch os.Args[1] {
	case "retrain":
		cmdErr = runRetrain(ctx, worker)
	case "stats":
		cmdErr = runStats(ctx, worker)
	case "dlq":
		cmdErr = runDLQ(ctx, worker, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if shutErr := worker.Shutdown(context.Background()); shutErr != nil {
		log.Printf("shutdown reported errors: %v", shutErr)
	}

	if cmdErr != nil {
		reportAndExit(os.Args[1], cmdErr)
	}
}

// reportAndExit classifies cmdErr into an AppError (if it isn't already one)
// so operators get a consistent code/message pair, then exits with the
// error's status code truncated to a valid process exit status.
func reportAndExit(command string, cmdErr error) {
	appErr, ok := appErrors.IsAppError(cmdErr)
	if !ok {
		appErr = appErrors.NewInternalError(fmt.Sprintf("%s failed", command), cmdErr)
	}
	fmt.Fprintf(os.Stderr, "%s: %s (%s)\n", command, appErr.Message, appErr.Type)
	os.Exit(appErr.StatusCode % 256)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sentryctl <retrain|stats|dlq> [flags]")
}

func runRetrain(ctx context.Context, w *app.Worker) error {
	fmt.Println("retraining detector...")
	if err := w.Detector.Retrain(ctx); err != nil {
		return appErrors.NewErrorWithCode(appErrors.CodeDetectorRetrainFailed, err.Error())
	}
	fmt.Println("retrain complete")
	return nil
}

func runStats(ctx context.Context, w *app.Worker) error {
	length, err := w.Stream.Len(ctx)
	if err != nil {
		return appErrors.NewErrorWithCode(appErrors.CodeStreamUnavailable, err.Error())
	}
	pending, err := w.Stream.PendingCount(ctx)
	if err != nil {
		return appErrors.NewErrorWithCode(appErrors.CodeStreamUnavailable, err.Error())
	}
	fmt.Printf("stream length:   %d\n", length)
	fmt.Printf("pending entries: %d\n", pending)
	fmt.Printf("llm queue depth: %d\n", w.LLM.QueueDepth())
	return nil
}

func runDLQ(ctx context.Context, w *app.Worker, args []string) error {
	fs := flag.NewFlagSet("dlq", flag.ExitOnError)
	limit := fs.Int64("limit", 20, "number of dead-letter entries to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entries, err := w.Stream.PeekDLQ(ctx, *limit)
	if err != nil {
		return appErrors.NewErrorWithCode(appErrors.CodeStreamUnavailable, err.Error())
	}
	if len(entries) == 0 {
		fmt.Println("dead-letter queue is empty")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  original=%s  kind=%s  reason=%s\n", e.ID, e.OriginalID, e.Kind, e.Reason)
	}
	return nil
}
