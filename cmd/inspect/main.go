// Command inspect summarises training parquet files with DuckDB.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/brensch/alphasnake/config"
	"github.com/brensch/alphasnake/store"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	glob := flag.String("glob", config.EnvOr("DATA_GLOB", "data/generated/*.parquet"), "Parquet files to summarise")
	flag.Parse()

	s, err := store.Summarize(context.Background(), *glob)
	if err != nil {
		log.Fatalf("Failed to summarise %s: %v", *glob, err)
	}
	printSummary(os.Stdout, *glob, s)
}

func printSummary(w io.Writer, glob string, s store.Summary) {
	fmt.Fprintf(w, "files:   %s\n", glob)
	fmt.Fprintf(w, "rows:    %d\n", s.Rows)
	fmt.Fprintf(w, "games:   %d\n", s.Games)
	fmt.Fprintf(w, "snakes:  %d\n", s.Snakes)
	fmt.Fprintf(w, "maxturn: %d\n", s.MaxTurn)
	fmt.Fprintf(w, "mean q:  left %+.4f  straight %+.4f  right %+.4f\n", s.MeanQ[0], s.MeanQ[1], s.MeanQ[2])
	fmt.Fprintf(w, "moves:   left %d  straight %d  right %d\n", s.Moves[0], s.Moves[1], s.Moves[2])

	sources := make([]string, 0, len(s.BySource))
	for src := range s.BySource {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		fmt.Fprintf(w, "source %-10s %d\n", src, s.BySource[src])
	}
}
