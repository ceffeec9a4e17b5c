// Command merge folds dataset files, and optionally datasets from the
// configured store, into one deduplicated dataset and prints a
// reconciliation report.
//
// Sources are merged in name order; the first record seen for a key is kept.
//
// Usage:
//
//	go run ./cmd/merge -out merged.json data/ extra/drmq.json
//	go run ./cmd/merge -keys drmq,drmr -save-key maine-coast
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/couchcryptid/marine-grid-etl/internal/adapter/store"
	"github.com/couchcryptid/marine-grid-etl/internal/config"
	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/couchcryptid/marine-grid-etl/internal/merge"
	"github.com/couchcryptid/marine-grid-etl/internal/observability"
	"github.com/joho/godotenv"
)

type options struct {
	paths   []string
	keys    []string
	out     string
	report  string
	saveKey string
	rekey   bool
}

func main() {
	var opts options
	keys := flag.String("keys", "", "comma-separated dataset keys to read from the configured store")
	flag.StringVar(&opts.out, "out", "", "write the merged dataset to this file")
	flag.StringVar(&opts.report, "report", "", "write the reconciliation report to this file instead of stdout")
	flag.StringVar(&opts.saveKey, "save-key", "", "save the merged dataset to the configured store under this key")
	flag.BoolVar(&opts.rekey, "rekey", false, "re-key input records by geohashCenter before merging")
	flag.Parse()

	opts.paths = flag.Args()
	opts.keys = domain.SplitList(*keys)
	if len(opts.paths) == 0 && len(opts.keys) == 0 {
		fmt.Fprintln(os.Stderr, "no input files or -keys given")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		slog.Error("merge failed", "error", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	files, err := expandPaths(opts.paths)
	if err != nil {
		return err
	}
	sources, err := readFiles(files)
	if err != nil {
		return err
	}

	var datasets store.Store
	if len(opts.keys) > 0 || opts.saveKey != "" {
		if datasets, err = store.Open(ctx, cfg); err != nil {
			return err
		}
		defer datasets.Close()
	}
	for _, key := range opts.keys {
		ds, err := datasets.Load(ctx, key)
		if err != nil {
			return err
		}
		sources = append(sources, merge.FromDataset(key, ds))
	}

	if opts.rekey {
		for i := range sources {
			sources[i] = merge.Rekey(sources[i])
		}
	}
	merge.SortSources(sources)

	merged, report := merge.NewEngine(metrics, logger).Merge(sources...)

	if opts.out != "" {
		if err := writeFile(opts.out, func(w io.Writer) error { return merge.WriteDataset(w, merged) }); err != nil {
			return err
		}
		logger.Info("merged dataset written", "path", opts.out, "records", len(merged))
	}
	if opts.saveKey != "" {
		if err := datasets.Save(ctx, opts.saveKey, merged); err != nil {
			return err
		}
		logger.Info("merged dataset stored", "key", opts.saveKey, "records", len(merged))
	}

	if opts.report == "" {
		return merge.WriteReport(os.Stdout, report)
	}
	return writeFile(opts.report, func(w io.Writer) error { return merge.WriteReport(w, report) })
}

// expandPaths replaces each directory with the .json files directly inside it.
func expandPaths(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.json"))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	return files, nil
}

func readFiles(files []string) ([]merge.Source, error) {
	sources := make([]merge.Source, 0, len(files))
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		src, err := merge.ReadSource(filepath.Base(path), f)
		f.Close()
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return write(f)
}
