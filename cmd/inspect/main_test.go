package main

import (
	"strings"
	"testing"

	"github.com/brensch/alphasnake/store"
)

func TestPrintSummary(t *testing.T) {
	var sb strings.Builder
	printSummary(&sb, "x/*.parquet", store.Summary{
		Rows:     10,
		Games:    2,
		Moves:    [3]int64{3, 5, 2},
		BySource: map[string]int64{"selfplay": 7, "replay": 3},
	})
	out := sb.String()
	for _, want := range []string{"rows:    10", "games:   2", "moves:   left 3  straight 5  right 2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in\n%s", want, out)
		}
	}
	if strings.Index(out, "source replay") > strings.Index(out, "source selfplay") {
		t.Fatalf("sources not sorted:\n%s", out)
	}
}
