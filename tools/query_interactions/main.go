package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/patrickwarner/openpersonalize/internal/analytics"
	"github.com/patrickwarner/openpersonalize/internal/config"
	"github.com/patrickwarner/openpersonalize/internal/observability"
)

func main() {
	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var (
		userID string
		dsn    string
		window time.Duration
	)
	flag.StringVar(&userID, "user", "", "user ID")
	flag.StringVar(&dsn, "dsn", "", "ClickHouse DSN")
	flag.DurationVar(&window, "window", 30*24*time.Hour, "how far back to summarize")
	flag.Parse()

	if userID == "" {
		fmt.Fprintln(os.Stderr, "user required")
		os.Exit(1)
	}
	if dsn == "" {
		cfg := config.Load()
		dsn = cfg.ClickHouseDSN
	}

	ctx := context.Background()
	a, err := analytics.InitClickHouse(ctx, dsn, analytics.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1, ConnMaxLifetime: 5 * time.Minute}, observability.NewNoOpRegistry(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect clickhouse: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	summary, err := a.Summarize(ctx, userID, time.Now().Add(-window).UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "summarize interactions: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintf(os.Stderr, "encode summary: %v\n", err)
		os.Exit(1)
	}
}
