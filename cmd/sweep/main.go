// Command sweep resolves a bounding box to its forecast grid, fetches every
// cell, and stores the resulting dataset under the box geohash.
//
// Usage:
//
//	go run ./cmd/sweep \
//	  -nw 44.8804,-67.0136 -ne 44.6519,-68.3069 \
//	  -sw 44.2204,-68.1855 -se 44.4123,-66.9769
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/couchcryptid/marine-grid-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/marine-grid-etl/internal/adapter/kafka"
	"github.com/couchcryptid/marine-grid-etl/internal/adapter/nws"
	"github.com/couchcryptid/marine-grid-etl/internal/adapter/store"
	"github.com/couchcryptid/marine-grid-etl/internal/config"
	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/couchcryptid/marine-grid-etl/internal/grid"
	"github.com/couchcryptid/marine-grid-etl/internal/observability"
	"github.com/couchcryptid/marine-grid-etl/internal/pipeline"
	"github.com/joho/godotenv"
)

func main() {
	nw := flag.String("nw", "", "northwest corner as lat,lon")
	ne := flag.String("ne", "", "northeast corner as lat,lon")
	sw := flag.String("sw", "", "southwest corner as lat,lon")
	se := flag.String("se", "", "southeast corner as lat,lon")
	fields := flag.String("fields", strings.Join(domain.SweepFields, ","), "comma-separated forecast layers to record")
	report := flag.Bool("report", false, "print the run report as JSON on stdout")
	flag.Parse()

	box, err := parseBox(*nw, *ne, *sw, *se)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	if err := run(box, domain.SplitList(*fields), *report); err != nil {
		os.Exit(1)
	}
}

func run(box domain.BoundingBox, fields []string, printReport bool) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := nws.NewClient(cfg.NWSBaseURL, cfg.NWSUserAgent, cfg.NWSTimeout, metrics, logger)
	api := nws.NewCachedAPI(client, cfg.PointCacheSize, metrics)

	datasets, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Error("failed to open dataset store", "error", err)
		return err
	}
	defer datasets.Close()

	var publisher pipeline.Publisher
	if cfg.PublishEnabled() {
		pub := kafkaadapter.NewPublisher(cfg, logger)
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Error("kafka publisher close error", "error", err)
			}
		}()
		publisher = pub
		logger.Info("publishing enabled", "topic", cfg.KafkaTopic)
	}

	resolver := grid.NewResolver(api, grid.RetryPolicy{
		MaxAttempts: cfg.CornerMaxAttempts,
		Adjust:      grid.ShiftSouthEast(cfg.CornerShift),
		Delay:       cfg.CornerRetryDelay,
		Clock:       domain.Clock(),
	}, metrics, logger)
	fetcher := grid.NewFetcher(api, grid.NewThrottleFor(cfg, domain.Clock()))
	aggregator := grid.NewAggregator(fetcher, cfg.FetchConcurrency, metrics, logger)

	opts := pipeline.DefaultOptions()
	opts.SweepTimeout = cfg.SweepTimeout
	p := pipeline.New(resolver, aggregator, datasets, publisher, opts, logger, metrics)

	if cfg.HTTPAddr != "" {
		srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	rep, err := p.Run(ctx, box, fields)
	if printReport {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
	}
	return err
}

func parseBox(nw, ne, sw, se string) (domain.BoundingBox, error) {
	var box domain.BoundingBox
	for _, c := range []struct {
		name string
		in   string
		out  *domain.Corner
	}{
		{"nw", nw, &box.NW},
		{"ne", ne, &box.NE},
		{"sw", sw, &box.SW},
		{"se", se, &box.SE},
	} {
		if c.in == "" {
			return box, fmt.Errorf("-%s is required", c.name)
		}
		corner, err := domain.ParseCorner(c.in)
		if err != nil {
			return box, fmt.Errorf("-%s: %w", c.name, err)
		}
		*c.out = corner
	}
	return box, nil
}
