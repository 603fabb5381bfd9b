package main

import (
	"path/filepath"
	"testing"

	"github.com/brensch/alphasnake/replay"
	"github.com/brensch/alphasnake/store"
)

func TestSplitList(t *testing.T) {
	got := splitList(" a, ,b,c ,")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("got %q", got)
	}
	if got := splitList(""); len(got) != 0 {
		t.Fatalf("got %q", got)
	}
}

func TestRecord_MarksDone(t *testing.T) {
	done, err := store.OpenDoneLog(filepath.Join(t.TempDir(), "done.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer done.Close()

	if err := record(nil, done, replay.Report{GameID: "g1"}); err != nil {
		t.Fatal(err)
	}
	if !done.Has("g1") || done.Count() != 1 {
		t.Fatalf("done log count=%d", done.Count())
	}
}
