package mcts

import (
	"errors"
	"math"
	"testing"

	"github.com/brensch/alphasnake/encode"
)

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestStore_EnsureInitializedSeedsOneVisit(t *testing.T) {
	s := NewStore()
	key := encode.StateKey("k")

	q := s.EnsureInitialized(key, [3]float32{-1, 0.25, 0.5})
	if q != [3]float32{-1, 0.25, 0.5} {
		t.Fatalf("q=%v", q)
	}
	st, ok := s.Stats(key)
	if !ok {
		t.Fatal("missing stats")
	}
	if st.Visits != [3]float32{1, 1, 1} {
		t.Fatalf("visits=%v want [1 1 1]", st.Visits)
	}

	// A second prior is ignored.
	q = s.EnsureInitialized(key, [3]float32{0.9, 0.9, 0.9})
	if q != [3]float32{-1, 0.25, 0.5} {
		t.Fatalf("existing entry overwritten: %v", q)
	}
	if s.Len() != 1 {
		t.Fatalf("len=%d", s.Len())
	}
}

func TestStore_BackupRunningMean(t *testing.T) {
	s := NewStore()
	key := encode.StateKey("k")
	s.EnsureInitialized(key, [3]float32{0.5, 0, 0})

	if err := s.Backup(key, 0, -1); err != nil {
		t.Fatal(err)
	}
	q, _ := s.Lookup(key)
	if !approx(q[0], -0.25) {
		t.Fatalf("q[0]=%v want -0.25", q[0])
	}

	if err := s.Backup(key, 0, 1); err != nil {
		t.Fatal(err)
	}
	st, _ := s.Stats(key)
	if st.Visits[0] != 3 {
		t.Fatalf("visits=%v", st.Visits[0])
	}
	for m := 0; m < 3; m++ {
		if !approx(st.Q[m], st.Total[m]/st.Visits[m]) {
			t.Fatalf("move %d: q=%v total/visits=%v", m, st.Q[m], st.Total[m]/st.Visits[m])
		}
	}
	if !approx(st.Q[0], 0.5/3) {
		t.Fatalf("q[0]=%v want %v", st.Q[0], 0.5/3)
	}
	if st.Q[1] != 0 || st.Q[2] != 0 {
		t.Fatalf("other moves changed: %v", st.Q)
	}
}

func TestStore_BackupErrors(t *testing.T) {
	s := NewStore()
	if err := s.Backup("missing", 1, 1); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("err=%v want ErrUnknownState", err)
	}
	s.EnsureInitialized("k", [3]float32{})
	if err := s.Backup("k", 3, 1); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestStore_Reset(t *testing.T) {
	s := NewStore()
	for _, k := range []encode.StateKey{"a", "b", "c"} {
		s.EnsureInitialized(k, [3]float32{})
	}
	if s.Len() != 3 {
		t.Fatalf("len=%d", s.Len())
	}
	s.Reset()
	if s.Len() != 0 {
		t.Fatalf("len after reset=%d", s.Len())
	}
	if _, ok := s.Lookup("a"); ok {
		t.Fatal("lookup after reset succeeded")
	}
}
