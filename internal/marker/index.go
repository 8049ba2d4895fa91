package marker

import "sort"

// DefaultMaxDistance is the nearest-lookup radius used when a caller does
// not specify one, in milliseconds.
const DefaultMaxDistance = 1000

// Index is a one-dimensional spatial index over a marker snapshot: markers
// sorted by timestamp plus a parallel timestamp array for binary search.
// Range and neighbor queries run in O(log n).
//
// The index is rebuilt wholesale via Update whenever the underlying marker
// set changes; it is never partially mutated. It is not safe for concurrent
// mutation: callers either serialize Update with in-flight queries or treat
// each snapshot as immutable and swap references atomically.
type Index struct {
	markers    []*Marker
	timestamps []int64
}

// NewIndex builds an index over the given snapshot.
func NewIndex(markers []*Marker) *Index {
	idx := &Index{}
	idx.Update(markers)
	return idx
}

// Update replaces the snapshot, sorting by timestamp. O(n log n).
func (x *Index) Update(markers []*Marker) {
	sorted := make([]*Marker, len(markers))
	copy(sorted, markers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	timestamps := make([]int64, len(sorted))
	for i, m := range sorted {
		timestamps[i] = m.Timestamp
	}

	x.markers = sorted
	x.timestamps = timestamps
}

// QueryRange returns all markers with start <= timestamp <= end in
// ascending order. O(log n + k) for k results.
func (x *Index) QueryRange(startMs, endMs int64) []*Marker {
	if len(x.markers) == 0 {
		return nil
	}

	left := x.lowerBound(startMs)
	right := x.upperBound(endMs)
	if left >= right {
		return nil
	}

	out := make([]*Marker, right-left)
	copy(out, x.markers[left:right])
	return out
}

// FindNearest returns the marker closest to timestampMs within
// maxDistanceMs, or nil if none qualifies. On an exact tie the earlier
// marker wins.
func (x *Index) FindNearest(timestampMs, maxDistanceMs int64) *Marker {
	if len(x.markers) == 0 {
		return nil
	}

	idx := x.lowerBound(timestampMs)

	var best *Marker
	var bestDist int64

	if idx > 0 {
		left := x.markers[idx-1]
		if d := absDiff(left.Timestamp, timestampMs); d <= maxDistanceMs {
			best, bestDist = left, d
		}
	}
	if idx < len(x.markers) {
		right := x.markers[idx]
		if d := absDiff(right.Timestamp, timestampMs); d <= maxDistanceMs {
			if best == nil || d < bestDist {
				best = right
			}
		}
	}
	return best
}

// FindPrev returns the last marker strictly before timestampMs, or nil.
func (x *Index) FindPrev(timestampMs int64) *Marker {
	idx := x.lowerBound(timestampMs)
	if idx > 0 {
		return x.markers[idx-1]
	}
	return nil
}

// FindNext returns the first marker strictly after timestampMs, or nil.
func (x *Index) FindNext(timestampMs int64) *Marker {
	idx := x.upperBound(timestampMs)
	if idx < len(x.markers) {
		return x.markers[idx]
	}
	return nil
}

// All returns the sorted snapshot.
func (x *Index) All() []*Marker {
	out := make([]*Marker, len(x.markers))
	copy(out, x.markers)
	return out
}

// Len returns the number of indexed markers.
func (x *Index) Len() int {
	return len(x.markers)
}

// IsEmpty reports whether the index holds no markers.
func (x *Index) IsEmpty() bool {
	return len(x.markers) == 0
}

// lowerBound returns the first index whose timestamp is >= t.
func (x *Index) lowerBound(t int64) int {
	return sort.Search(len(x.timestamps), func(i int) bool {
		return x.timestamps[i] >= t
	})
}

// upperBound returns the first index whose timestamp is > t.
func (x *Index) upperBound(t int64) int {
	return sort.Search(len(x.timestamps), func(i int) bool {
		return x.timestamps[i] > t
	})
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
