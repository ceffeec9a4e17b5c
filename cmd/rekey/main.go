// Command rekey rewrites legacy dataset files keyed by "(x, y)" so each record
// is keyed by its geohashCenter. Each input <name>.json is written next to it
// as <name>_transformed.json.
//
// Usage:
//
//	go run ./cmd/rekey data/legacy/*.json
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/marine-grid-etl/internal/merge"
	"github.com/couchcryptid/marine-grid-etl/internal/observability"
	"github.com/joho/godotenv"
)

func main() {
	outDir := flag.String("out-dir", "", "write transformed files here instead of next to the inputs")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	logger := observability.NewLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	engine := merge.NewEngine(observability.NewMetrics(), logger)

	var failed bool
	for _, path := range flag.Args() {
		out, n, err := rekeyFile(engine, path, *outDir)
		if err != nil {
			logger.Error("rekey failed", "path", path, "error", err)
			failed = true
			continue
		}
		logger.Info("file rekeyed", "path", path, "out", out, "records", n)
	}
	if failed {
		os.Exit(1)
	}
}

// rekeyFile writes the rekeyed form of path and returns the output path and
// the number of records written. Records that share a geohashCenter keep the
// first in key order.
func rekeyFile(engine *merge.Engine, path, outDir string) (string, int, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	src, err := merge.ReadSource(filepath.Base(path), in)
	in.Close()
	if err != nil {
		return "", 0, err
	}

	ds, _ := engine.Merge(merge.Rekey(src))
	out := transformedPath(path, outDir)

	f, err := os.Create(out)
	if err != nil {
		return "", 0, err
	}
	if err := errors.Join(merge.WriteDataset(f, ds), f.Close()); err != nil {
		return "", 0, fmt.Errorf("write %s: %w", out, err)
	}
	return out, len(ds), nil
}

func transformedPath(path, outDir string) string {
	dir, base := filepath.Split(path)
	if outDir != "" {
		dir = outDir
	}
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, name+"_transformed.json")
}
