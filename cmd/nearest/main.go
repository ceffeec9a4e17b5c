// Command nearest prints, for each forecast layer, the closest grid cell
// around a coordinate that reports a value. It is the surf report lookup: a
// buoy or beach position rarely sits on a cell with wave data.
//
// Usage:
//
//	go run ./cmd/nearest -at 43.0712,-70.7095 -radius 8
package main

import (
	"cmp"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/couchcryptid/marine-grid-etl/internal/adapter/nws"
	"github.com/couchcryptid/marine-grid-etl/internal/config"
	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/couchcryptid/marine-grid-etl/internal/grid"
	"github.com/couchcryptid/marine-grid-etl/internal/observability"
	"github.com/couchcryptid/marine-grid-etl/internal/search"
	"github.com/joho/godotenv"
)

func main() {
	at := flag.String("at", "", "origin as lat,lon")
	radius := flag.Int("radius", 0, "search radius in grid cells (default SEARCH_MAX_RADIUS)")
	fields := flag.String("fields", strings.Join(domain.SurfFields, ","), "comma-separated forecast layers to look up")
	asJSON := flag.Bool("json", false, "print the full result as JSON")
	showVisited := flag.Bool("visited", false, "list every grid cell checked")
	flag.Parse()

	origin, err := domain.ParseCorner(*at)
	if err != nil {
		fmt.Fprintln(os.Stderr, "-at:", err)
		flag.Usage()
		os.Exit(2)
	}

	if err := run(origin, *radius, domain.SplitList(*fields), *asJSON, *showVisited); err != nil {
		slog.Error("nearest search failed", "error", err)
		os.Exit(1)
	}
}

func run(origin domain.Corner, radius int, fields []string, asJSON, showVisited bool) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := nws.NewClient(cfg.NWSBaseURL, cfg.NWSUserAgent, cfg.NWSTimeout, metrics, logger)
	api := nws.NewCachedAPI(client, cfg.PointCacheSize, metrics)

	opts := search.DefaultOptions()
	opts.MaxRadius = cfg.SearchMaxRadius
	if radius > 0 {
		opts.MaxRadius = radius
	}
	opts.Fields = fields
	opts.CellSizeKm = cfg.SearchCellKm
	opts.MaxDistanceKm = cfg.SearchMaxKm
	opts.Concurrency = cfg.FetchConcurrency

	searcher := search.New(api, grid.NewFetcher(api, grid.NewThrottleFor(cfg, domain.Clock())), opts, metrics, logger)
	res, err := searcher.Nearest(ctx, origin)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return writeReport(os.Stdout, res, fields, showVisited)
}

// writeReport prints one line per field in request order.
func writeReport(w io.Writer, res domain.NearestValueResult, fields []string, showVisited bool) error {
	fmt.Fprintf(w, "Origin %s in cell %s, radius %d\n", res.Origin, res.OriginCell, res.MaxRadius)
	for _, f := range fields {
		nv := res.Fields[f]
		if nv == nil {
			fmt.Fprintf(w, "%s: no data within radius\n", f)
			continue
		}
		fmt.Fprintf(w, "%s: %g at %s, %.2f cells (~%.1f km) bearing %.0f°\n",
			f, nv.Value, nv.Cell, nv.Distance, nv.DistanceKm, nv.Bearing)
	}
	if res.Failed > 0 {
		fmt.Fprintf(w, "%d cells could not be fetched\n", res.Failed)
	}
	if res.Partial {
		fmt.Fprintln(w, "Search interrupted; results cover the rings completed so far")
	}
	if !showVisited {
		return nil
	}

	visited := slices.Clone(res.Visited)
	slices.SortStableFunc(visited, func(a, b domain.VisitedCell) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	_, err := fmt.Fprintf(w, "Grid points checked: %d\n", len(visited))
	for _, v := range visited {
		if _, err := fmt.Fprintf(w, "  %s distance %.2f\n", v.Cell, v.Distance); err != nil {
			return err
		}
	}
	return err
}
