package marker

import (
	"fmt"
	"testing"
)

func indexFixture(timestamps ...int64) []*Marker {
	markers := make([]*Marker, len(timestamps))
	for i, ts := range timestamps {
		markers[i] = &Marker{
			ID:        fmt.Sprintf("m%d", i),
			Timestamp: ts,
			Color:     DefaultColor,
			Category:  DefaultCategory,
		}
	}
	return markers
}

func TestQueryRangeMatchesLinearScan(t *testing.T) {
	timestamps := []int64{0, 100, 250, 900, 901, 5000}
	idx := NewIndex(indexFixture(timestamps...))

	bounds := []int64{-50, 0, 1, 99, 100, 250, 900, 901, 5000, 6000}
	for _, a := range bounds {
		for _, b := range bounds {
			if a > b {
				continue
			}

			var want []int64
			for _, ts := range timestamps {
				if a <= ts && ts <= b {
					want = append(want, ts)
				}
			}

			got := idx.QueryRange(a, b)
			if len(got) != len(want) {
				t.Fatalf("QueryRange(%d, %d) returned %d markers, want %d", a, b, len(got), len(want))
			}
			for i, m := range got {
				if m.Timestamp != want[i] {
					t.Errorf("QueryRange(%d, %d)[%d] = %d, want %d", a, b, i, m.Timestamp, want[i])
				}
				if i > 0 && got[i-1].Timestamp > m.Timestamp {
					t.Errorf("QueryRange(%d, %d) not ascending at %d", a, b, i)
				}
			}
		}
	}
}

func TestQueryRangeEmptyIndex(t *testing.T) {
	idx := NewIndex(nil)
	if got := idx.QueryRange(0, 1000); got != nil {
		t.Errorf("QueryRange on empty index = %v, want nil", got)
	}
}

func TestFindNearest(t *testing.T) {
	idx := NewIndex(indexFixture(100, 500, 2000))

	tests := []struct {
		name    string
		t       int64
		maxDist int64
		wantTs  int64
		wantNil bool
	}{
		{name: "exact hit", t: 500, maxDist: 1000, wantTs: 500},
		{name: "left closer", t: 220, maxDist: 1000, wantTs: 100},
		{name: "right closer", t: 450, maxDist: 1000, wantTs: 500},
		{name: "tie goes to earlier", t: 300, maxDist: 1000, wantTs: 100},
		{name: "within distance bound", t: 1999, maxDist: 1, wantTs: 2000},
		{name: "outside distance bound", t: 1200, maxDist: 100, wantNil: true},
		{name: "before first", t: 0, maxDist: 1000, wantTs: 100},
		{name: "after last", t: 2500, maxDist: 1000, wantTs: 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := idx.FindNearest(tt.t, tt.maxDist)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("FindNearest(%d, %d) = %d, want nil", tt.t, tt.maxDist, got.Timestamp)
				}
				return
			}
			if got == nil {
				t.Fatalf("FindNearest(%d, %d) = nil, want %d", tt.t, tt.maxDist, tt.wantTs)
			}
			if got.Timestamp != tt.wantTs {
				t.Errorf("FindNearest(%d, %d) = %d, want %d", tt.t, tt.maxDist, got.Timestamp, tt.wantTs)
			}
		})
	}
}

func TestFindNearestNeverExceedsDistance(t *testing.T) {
	idx := NewIndex(indexFixture(100, 500, 2000, 2100, 9000))

	for q := int64(-500); q <= 10000; q += 37 {
		for _, maxDist := range []int64{0, 10, 99, 250, 1000} {
			got := idx.FindNearest(q, maxDist)
			if got == nil {
				continue
			}
			if d := absDiff(got.Timestamp, q); d > maxDist {
				t.Fatalf("FindNearest(%d, %d) returned marker at %d, distance %d", q, maxDist, got.Timestamp, d)
			}
		}
	}
}

func TestFindNearestEmptyIndex(t *testing.T) {
	idx := NewIndex(nil)
	if got := idx.FindNearest(100, 1000); got != nil {
		t.Errorf("FindNearest on empty index = %v, want nil", got)
	}
}

func TestFindPrevNextStrict(t *testing.T) {
	idx := NewIndex(indexFixture(100, 200, 300))

	tests := []struct {
		t        int64
		wantPrev int64
		wantNext int64
	}{
		{t: 50, wantPrev: -1, wantNext: 100},
		{t: 100, wantPrev: -1, wantNext: 200},
		{t: 150, wantPrev: 100, wantNext: 200},
		{t: 200, wantPrev: 100, wantNext: 300},
		{t: 300, wantPrev: 200, wantNext: -1},
		{t: 350, wantPrev: 300, wantNext: -1},
	}

	for _, tt := range tests {
		prev := idx.FindPrev(tt.t)
		if tt.wantPrev < 0 {
			if prev != nil {
				t.Errorf("FindPrev(%d) = %d, want nil", tt.t, prev.Timestamp)
			}
		} else if prev == nil || prev.Timestamp != tt.wantPrev {
			t.Errorf("FindPrev(%d) = %v, want %d", tt.t, prev, tt.wantPrev)
		}
		if prev != nil && prev.Timestamp >= tt.t {
			t.Errorf("FindPrev(%d) returned timestamp %d >= query", tt.t, prev.Timestamp)
		}

		next := idx.FindNext(tt.t)
		if tt.wantNext < 0 {
			if next != nil {
				t.Errorf("FindNext(%d) = %d, want nil", tt.t, next.Timestamp)
			}
		} else if next == nil || next.Timestamp != tt.wantNext {
			t.Errorf("FindNext(%d) = %v, want %d", tt.t, next, tt.wantNext)
		}
		if next != nil && next.Timestamp <= tt.t {
			t.Errorf("FindNext(%d) returned timestamp %d <= query", tt.t, next.Timestamp)
		}
	}
}

func TestUpdateReplacesSnapshot(t *testing.T) {
	idx := NewIndex(indexFixture(100, 200))
	if idx.Len() != 2 {
		t.Fatalf("Len = %d, want 2", idx.Len())
	}

	idx.Update(indexFixture(900, 300, 600))

	all := idx.All()
	if len(all) != 3 {
		t.Fatalf("Len after update = %d, want 3", len(all))
	}
	for i, want := range []int64{300, 600, 900} {
		if all[i].Timestamp != want {
			t.Errorf("All()[%d] = %d, want %d (sorted)", i, all[i].Timestamp, want)
		}
	}
	if idx.QueryRange(100, 200) != nil {
		t.Error("stale markers still visible after Update")
	}
	if idx.IsEmpty() {
		t.Error("IsEmpty = true on populated index")
	}
}
