package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/wisbric/vulnsync/internal/app"
	"github.com/wisbric/vulnsync/internal/config"
)

func main() {
	mode := flag.String("mode", "", "run mode: once or daemon (overrides VULNSYNC_MODE)")
	incremental := flag.Bool("incremental", false, "filter remediations by the last successful sync date")
	batchSize := flag.Int("batch-size", 0, "per-stream flush threshold (overrides VULNSYNC_BATCH_SIZE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	if *mode != "" {
		cfg.Mode = *mode
	}

	opts := app.RunOptions{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "incremental":
			opts.Incremental = incremental
		case "batch-size":
			opts.BatchSize = batchSize
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, cfg, opts); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
