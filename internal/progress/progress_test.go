package progress

import (
	"errors"
	"testing"
)

func TestEachVisitsInOrder(t *testing.T) {
	for _, show := range []bool{false, true} {
		var seen []int
		err := Each(5, "batches", show, func(i int) error {
			seen = append(seen, i)
			return nil
		})
		if err != nil {
			t.Fatalf("show=%v: %v", show, err)
		}
		if len(seen) != 5 || seen[0] != 0 || seen[4] != 4 {
			t.Fatalf("show=%v: unexpected visits %v", show, seen)
		}
	}
}

func TestEachStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	for _, show := range []bool{false, true} {
		calls := 0
		err := Each(10, "batches", show, func(i int) error {
			calls++
			if i == 2 {
				return boom
			}
			return nil
		})
		if !errors.Is(err, boom) {
			t.Fatalf("show=%v: expected boom, got %v", show, err)
		}
		if calls != 3 {
			t.Fatalf("show=%v: expected 3 calls, got %d", show, calls)
		}
	}
}

func TestEachZero(t *testing.T) {
	if err := Each(0, "none", true, func(int) error { t.Fatal("unexpected call"); return nil }); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
