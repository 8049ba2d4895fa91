package marker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func setupManager(t *testing.T) (*Manager, *Store) {
	t.Helper()
	store := setupStore(t)
	mgr := NewManager(store, testLogger())
	mgr.SetFlushDelay(time.Hour) // tests flush explicitly unless stated
	t.Cleanup(func() { mgr.Close(context.Background()) })
	return mgr, store
}

func TestManagerAddAndFlush(t *testing.T) {
	mgr, store := setupManager(t)
	ctx := context.Background()

	m, err := mgr.Add(ctx, &Marker{Timestamp: 1500})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if m.ID == "" || m.Color != DefaultColor || m.Category != DefaultCategory {
		t.Errorf("defaults not applied: %+v", m)
	}
	if m.State != StateLive {
		t.Errorf("new marker state = %q, want live", m.State)
	}

	// Not persisted until the debounced flush runs.
	if n := store.Count(ctx, true); n != 0 {
		t.Fatalf("store count before flush = %d, want 0", n)
	}

	if !mgr.Flush(ctx) {
		t.Fatal("Flush returned false")
	}
	if n := store.Count(ctx, true); n != 1 {
		t.Fatalf("store count after flush = %d, want 1", n)
	}
}

func TestManagerFlushOnlyDirty(t *testing.T) {
	store := setupStore(t)
	counting := &countingRepo{Repository: store.repo}
	mgr := NewManager(NewStore(counting, testLogger()), testLogger())
	mgr.SetFlushDelay(time.Hour)
	ctx := context.Background()

	a, _ := mgr.Add(ctx, &Marker{Timestamp: 100})
	mgr.Add(ctx, &Marker{Timestamp: 200})
	mgr.Flush(ctx)

	if len(counting.batches) != 1 || counting.batches[0] != 2 {
		t.Fatalf("first flush batches = %v, want [2]", counting.batches)
	}

	desc := "edited"
	mgr.Update(ctx, a.ID, Update{Description: &desc})
	mgr.Flush(ctx)

	if len(counting.batches) != 2 || counting.batches[1] != 1 {
		t.Fatalf("second flush batches = %v, want one marker only", counting.batches)
	}

	got := store.Get(ctx, a.ID)
	if got == nil || got.Description != "edited" {
		t.Errorf("dirty marker not flushed: %+v", got)
	}

	// Nothing dirty: no write at all.
	mgr.Flush(ctx)
	if len(counting.batches) != 2 {
		t.Errorf("clean flush wrote a batch: %v", counting.batches)
	}
}

func TestManagerUpdate(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	m, _ := mgr.Add(ctx, &Marker{Timestamp: 1000})

	ts := int64(4000)
	ok, err := mgr.Update(ctx, m.ID, Update{Timestamp: &ts})
	if err != nil || !ok {
		t.Fatalf("Update = (%v, %v)", ok, err)
	}
	if got := mgr.Get(m.ID); got.Timestamp != 4000 {
		t.Errorf("timestamp after update = %d", got.Timestamp)
	}
	if got := mgr.Get(m.ID); got.UpdatedAt == nil {
		t.Error("UpdatedAt not stamped")
	}

	// Re-sort visible through the index.
	mgr.Add(ctx, &Marker{Timestamp: 2000})
	all := mgr.All()
	if len(all) != 2 || all[0].Timestamp != 2000 || all[1].Timestamp != 4000 {
		t.Errorf("index order after timestamp update: %v, %v", all[0].Timestamp, all[1].Timestamp)
	}

	ok, err = mgr.Update(ctx, "missing", Update{Timestamp: &ts})
	if err != nil || ok {
		t.Errorf("Update on missing marker = (%v, %v), want (false, nil)", ok, err)
	}

	bad := int64(-5)
	if _, err = mgr.Update(ctx, m.ID, Update{Timestamp: &bad}); err == nil {
		t.Error("Update with negative timestamp did not error")
	}
}

func TestManagerUpdateVideoScope(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	m, _ := mgr.Add(ctx, &Marker{Timestamp: 100, VideoIndex: intPtr(1)})

	// Rescope to all slots: inner nil, outer set.
	var toAll *int
	ok, err := mgr.Update(ctx, m.ID, Update{VideoIndex: &toAll})
	if err != nil || !ok {
		t.Fatalf("Update = (%v, %v)", ok, err)
	}
	if got := mgr.Get(m.ID); got.VideoIndex != nil {
		t.Errorf("VideoIndex = %v, want nil (all slots)", *got.VideoIndex)
	}

	// Outer nil leaves scope alone.
	desc := "note"
	mgr.Update(ctx, m.ID, Update{Description: &desc})
	if got := mgr.Get(m.ID); got.VideoIndex != nil {
		t.Error("scope changed by unrelated update")
	}

	bad := intPtr(NumSlots)
	if _, err := mgr.Update(ctx, m.ID, Update{VideoIndex: &bad}); err == nil {
		t.Error("out-of-range video index did not error")
	}
}

func TestManagerUpdateReplacesPublishedMarker(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	m, _ := mgr.Add(ctx, &Marker{Timestamp: 1000})
	before := mgr.Get(m.ID)

	desc := "edited"
	if ok, err := mgr.Update(ctx, m.ID, Update{Description: &desc}); err != nil || !ok {
		t.Fatalf("Update = (%v, %v)", ok, err)
	}

	if before.Description != "" || before.UpdatedAt != nil {
		t.Errorf("marker handed out before the update changed underneath the caller: %+v", before)
	}
	after := mgr.Get(m.ID)
	if after.Description != "edited" {
		t.Errorf("Description = %q, want edited", after.Description)
	}
	if after == before {
		t.Error("Update wrote through the published struct instead of replacing it")
	}
}

// Readers walk snapshots while a writer edits the same marker; the race
// detector flags any write through a published pointer.
func TestManagerConcurrentUpdateAndRead(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	m, _ := mgr.Add(ctx, &Marker{Timestamp: 1000})
	mgr.Add(ctx, &Marker{Timestamp: 2000})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			desc := fmt.Sprintf("edit %d", i)
			if _, err := mgr.Update(ctx, m.ID, Update{Description: &desc}); err != nil {
				t.Errorf("Update: %v", err)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, mk := range mgr.All() {
				_ = mk.Description
				_ = mk.UpdatedAt
			}
			if got := mgr.Get(m.ID); got != nil {
				_ = got.Description
			}
			if got := mgr.FindNearest(1000, DefaultMaxDistance); got != nil {
				_ = got.Description
			}
		}
	}()

	time.Sleep(100 * time.Millisecond)
	close(done)
	wg.Wait()
}

func TestManagerRemove(t *testing.T) {
	mgr, store := setupManager(t)
	ctx := context.Background()

	m, _ := mgr.Add(ctx, &Marker{Timestamp: 100})
	mgr.Flush(ctx)

	if !mgr.Remove(ctx, m.ID) {
		t.Fatal("Remove returned false for live marker")
	}
	if mgr.Remove(ctx, m.ID) {
		t.Error("second Remove returned true")
	}
	if mgr.Count() != 0 {
		t.Errorf("Count after remove = %d", mgr.Count())
	}

	all := store.LoadAll(ctx, true)
	if len(all) != 1 || all[0].State != StateDeleted {
		t.Errorf("store should retain soft-deleted marker, got %+v", all)
	}
	if live := store.LoadAll(ctx, false); len(live) != 0 {
		t.Errorf("live load returned %d markers", len(live))
	}
}

// A marker removed inside the debounce window, before its first flush,
// must still report success and leave a tombstone behind.
func TestManagerRemoveBeforeFlush(t *testing.T) {
	mgr, store := setupManager(t)
	ctx := context.Background()

	m, _ := mgr.Add(ctx, &Marker{Timestamp: 100})

	if !mgr.Remove(ctx, m.ID) {
		t.Fatal("Remove returned false for an unflushed marker")
	}

	all := store.LoadAll(ctx, true)
	if len(all) != 1 || all[0].State != StateDeleted {
		t.Errorf("store should hold a tombstone, got %+v", all)
	}
}

func TestManagerLoad(t *testing.T) {
	mgr, store := setupManager(t)
	ctx := context.Background()

	store.SaveBatch(ctx, []*Marker{
		{ID: "x", Timestamp: 700, Color: DefaultColor, Category: DefaultCategory, CreatedAt: time.Now()},
		{ID: "y", Timestamp: 300, Color: DefaultColor, Category: DefaultCategory, CreatedAt: time.Now()},
	})

	if n := mgr.Load(ctx); n != 2 {
		t.Fatalf("Load = %d, want 2", n)
	}
	if mgr.Count() != 2 {
		t.Errorf("Count = %d", mgr.Count())
	}
	if got := mgr.FindNearest(650, DefaultMaxDistance); got == nil || got.ID != "x" {
		t.Errorf("FindNearest after load = %+v", got)
	}
	if got := mgr.QueryRange(0, 500); len(got) != 1 || got[0].ID != "y" {
		t.Errorf("QueryRange after load = %+v", got)
	}
}

func TestManagerDebouncedFlushFires(t *testing.T) {
	mgr, store := setupManager(t)
	ctx := context.Background()
	mgr.SetFlushDelay(20 * time.Millisecond)

	mgr.Add(ctx, &Marker{Timestamp: 42})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.Count(ctx, true) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("debounced flush never persisted the marker")
}

func TestManagerCloseFlushes(t *testing.T) {
	store := setupStore(t)
	mgr := NewManager(store, testLogger())
	mgr.SetFlushDelay(time.Hour)
	ctx := context.Background()

	mgr.Add(ctx, &Marker{Timestamp: 10})
	mgr.Close(ctx)

	if n := store.Count(ctx, true); n != 1 {
		t.Fatalf("Close did not flush, store count = %d", n)
	}
}

type countingRepo struct {
	Repository
	batches []int
}

func (c *countingRepo) UpsertBatch(ctx context.Context, markers []*Marker) error {
	c.batches = append(c.batches, len(markers))
	return c.Repository.UpsertBatch(ctx, markers)
}
