package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

type item struct {
	ID    string
	Title string
	Tags  []string
}

func newTestStore(opts ...Option[item]) *Store[item] {
	return New(
		func(it item) string { return it.ID },
		func(it item, id string) item { it.ID = id; return it },
		opts...,
	)
}

func withTitle(title string) func(item) item {
	return func(it item) item { it.Title = title; return it }
}

var errServer = errors.New("server said no")

// =============================================================================
// Optimistic add
// =============================================================================

// TestOptimisticAddScenario walks the "Buy milk" scenario: the temporary item
// is visible and pending while the create call is in flight.
func TestOptimisticAddScenario(t *testing.T) {
	s := newTestStore(WithIDGenerator[item](func() string { return "temp-1" }))

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := s.OptimisticAdd(context.Background(), item{Title: "Buy milk"}, func(ctx context.Context) (item, error) {
			close(started)
			<-release
			return item{ID: "42", Title: "Buy milk"}, nil
		})
		done <- err
	}()

	<-started
	items := s.Items()
	if len(items) != 1 || items[0].ID != "temp-1" || items[0].Title != "Buy milk" {
		t.Fatalf("expected one temporary item, got %+v", items)
	}
	if !s.IsPending("temp-1") {
		t.Error("expected temp-1 to be pending while create is in flight")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []item{{ID: "42", Title: "Buy milk"}}
	if got := s.Items(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if s.IsPending("42") || s.IsPending("temp-1") {
		t.Error("expected nothing pending after resolution")
	}
}

func TestOptimisticAddSequenceLeavesNoTempIDs(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("srv-%d", i)
		created, err := s.OptimisticAdd(ctx, item{Title: id}, func(context.Context) (item, error) {
			return item{ID: id, Title: id}, nil
		})
		if err != nil {
			t.Fatalf("add %d failed: %v", i, err)
		}
		if created.ID != id {
			t.Errorf("expected created id %s, got %s", id, created.ID)
		}
	}

	items := s.Items()
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}
	seen := map[string]bool{}
	for _, it := range items {
		if strings.HasPrefix(it.ID, "temp-") {
			t.Errorf("temporary id left behind: %s", it.ID)
		}
		if seen[it.ID] {
			t.Errorf("duplicate id %s", it.ID)
		}
		seen[it.ID] = true
	}
	// Newest first.
	if items[0].ID != "srv-4" {
		t.Errorf("expected newest item first, got %s", items[0].ID)
	}
}

func TestOptimisticAddFailureRemovesTempItem(t *testing.T) {
	s := newTestStore(WithItems([]item{{ID: "1", Title: "A"}}))

	_, err := s.OptimisticAdd(context.Background(), item{Title: "B"}, func(context.Context) (item, error) {
		return item{}, errServer
	})
	if !errors.Is(err, errServer) {
		t.Fatalf("expected server error, got %v", err)
	}

	want := []item{{ID: "1", Title: "A"}}
	if got := s.Items(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v after rollback, got %+v", want, got)
	}
}

func TestOptimisticAddKeepsProvidedID(t *testing.T) {
	s := newTestStore()

	var seenDuringCall []item
	_, err := s.OptimisticAdd(context.Background(), item{ID: "mine", Title: "x"}, func(context.Context) (item, error) {
		seenDuringCall = s.Items()
		return item{ID: "server", Title: "x"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seenDuringCall) != 1 || seenDuringCall[0].ID != "mine" {
		t.Errorf("expected provided id during call, got %+v", seenDuringCall)
	}
	if got := s.Items(); len(got) != 1 || got[0].ID != "server" {
		t.Errorf("expected server id to win, got %+v", got)
	}
}

func TestOptimisticAddRejectsDuplicateID(t *testing.T) {
	s := newTestStore(WithItems([]item{{ID: "1", Title: "A"}}))

	called := false
	_, err := s.OptimisticAdd(context.Background(), item{ID: "1", Title: "B"}, func(context.Context) (item, error) {
		called = true
		return item{}, nil
	})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if called {
		t.Error("create must not be called for a duplicate id")
	}
	if got := s.Items(); len(got) != 1 || got[0].Title != "A" {
		t.Errorf("collection changed: %+v", got)
	}
}

func TestOptimisticAddServerItemWithoutIDKeepsTempID(t *testing.T) {
	s := newTestStore(WithIDGenerator[item](func() string { return "temp-x" }))

	created, err := s.OptimisticAdd(context.Background(), item{Title: "x"}, func(context.Context) (item, error) {
		return item{Title: "x"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != "temp-x" {
		t.Errorf("expected temp id to be kept, got %q", created.ID)
	}
	if s.IsPending("temp-x") {
		t.Error("expected temp-x to be resolved")
	}
}

// =============================================================================
// Optimistic update
// =============================================================================

// TestOptimisticUpdateFailureRestoresSnapshot covers the rejected rename
// scenario: the collection returns to exactly what it was.
func TestOptimisticUpdateFailureRestoresSnapshot(t *testing.T) {
	before := []item{{ID: "1", Title: "A", Tags: []string{"home"}}}
	s := newTestStore(WithItems(before))

	var during item
	_, err := s.OptimisticUpdate(context.Background(), "1", withTitle("B"), func(context.Context) (item, error) {
		during, _ = s.Get("1")
		return item{}, errServer
	})
	if !errors.Is(err, errServer) {
		t.Fatalf("expected server error, got %v", err)
	}
	if during.Title != "B" {
		t.Errorf("expected optimistic title B during call, got %q", during.Title)
	}
	if got := s.Items(); !reflect.DeepEqual(got, before) {
		t.Errorf("expected %+v after rollback, got %+v", before, got)
	}
	if s.IsPending("1") {
		t.Error("expected id 1 to be resolved")
	}
}

func TestOptimisticUpdateSuccessUsesServerVersion(t *testing.T) {
	s := newTestStore(WithItems([]item{{ID: "1", Title: "A"}, {ID: "2", Title: "Z"}}))

	updated, err := s.OptimisticUpdate(context.Background(), "1", withTitle("B"), func(context.Context) (item, error) {
		return item{ID: "1", Title: "B (canonical)"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Title != "B (canonical)" {
		t.Errorf("unexpected returned item %+v", updated)
	}

	want := []item{{ID: "1", Title: "B (canonical)"}, {ID: "2", Title: "Z"}}
	if got := s.Items(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestOptimisticUpdateMissingItem(t *testing.T) {
	s := newTestStore(WithItems([]item{{ID: "1", Title: "A"}}))

	called := false
	_, err := s.OptimisticUpdate(context.Background(), "nope", withTitle("B"), func(context.Context) (item, error) {
		called = true
		return item{ID: "nope", Title: "B"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("expected update to reach the server")
	}
	if got := s.Items(); len(got) != 1 || got[0].ID != "1" {
		t.Errorf("missing item must not be inserted, got %+v", got)
	}
}

// =============================================================================
// Optimistic delete
// =============================================================================

func TestOptimisticDeleteFailureReinsertsItem(t *testing.T) {
	removed := item{ID: "2", Title: "B", Tags: []string{"x"}}
	s := newTestStore(WithItems([]item{{ID: "1", Title: "A"}, removed, {ID: "3", Title: "C"}}))

	var during []item
	err := s.OptimisticDelete(context.Background(), "2", func(context.Context) error {
		during = s.Items()
		return errServer
	})
	if !errors.Is(err, errServer) {
		t.Fatalf("expected server error, got %v", err)
	}
	if len(during) != 2 {
		t.Errorf("expected item removed during call, got %+v", during)
	}

	got, ok := s.Get("2")
	if !ok || !reflect.DeepEqual(got, removed) {
		t.Errorf("expected %+v restored, got %+v (found=%v)", removed, got, ok)
	}
	if s.Len() != 3 {
		t.Errorf("expected 3 items, got %d", s.Len())
	}
}

func TestOptimisticDeleteSuccess(t *testing.T) {
	s := newTestStore(WithItems([]item{{ID: "1", Title: "A"}, {ID: "2", Title: "B"}}))

	if err := s.OptimisticDelete(context.Background(), "1", func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	want := []item{{ID: "2", Title: "B"}}
	if got := s.Items(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if s.IsPending("1") {
		t.Error("expected 1 to be resolved")
	}
}

func TestOptimisticDeleteStaysRemovedAfterConcurrentRefresh(t *testing.T) {
	s := newTestStore(WithItems([]item{{ID: "1", Title: "A"}}))

	err := s.OptimisticDelete(context.Background(), "1", func(context.Context) error {
		// A refresh lands before the server processed the delete.
		s.ReplaceAll([]item{{ID: "1", Title: "A"}})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 {
		t.Errorf("expected deleted item to stay removed, got %+v", s.Items())
	}
}

// =============================================================================
// Refresh interleaving
// =============================================================================

// TestReplaceAllKeepsUnresolvedAdd covers the accepted race between a refresh
// and an optimistic add whose server response has not arrived yet.
func TestReplaceAllKeepsUnresolvedAdd(t *testing.T) {
	s := newTestStore(WithIDGenerator[item](func() string { return "temp-1" }))

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := s.OptimisticAdd(context.Background(), item{Title: "C"}, func(context.Context) (item, error) {
			close(started)
			<-release
			return item{ID: "2", Title: "C"}, nil
		})
		done <- err
	}()
	<-started

	s.ReplaceAll([]item{{ID: "1", Title: "A"}})

	got := s.Items()
	if len(got) != 2 {
		t.Fatalf("expected server item plus temp item, got %+v", got)
	}
	if _, ok := s.Get("1"); !ok {
		t.Error("expected server item 1 after replace")
	}
	if _, ok := s.Get("temp-1"); !ok {
		t.Error("expected temp item to survive replace")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if s.Len() != 2 {
		t.Fatalf("expected 2 items, got %+v", s.Items())
	}
	if a, ok := s.Get("1"); !ok || a.Title != "A" {
		t.Errorf("expected {1 A}, got %+v", a)
	}
	if c, ok := s.Get("2"); !ok || c.Title != "C" {
		t.Errorf("expected {2 C}, got %+v", c)
	}
}

func TestAddResolvingAfterRefreshDoesNotDuplicate(t *testing.T) {
	s := newTestStore()

	_, err := s.OptimisticAdd(context.Background(), item{Title: "C"}, func(context.Context) (item, error) {
		// The refresh already contains the new item.
		s.ReplaceAll([]item{{ID: "2", Title: "C"}})
		return item{ID: "2", Title: "C"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []item{{ID: "2", Title: "C"}}
	if got := s.Items(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestReplaceAllCollapsesDuplicateIDs(t *testing.T) {
	s := newTestStore()
	s.ReplaceAll([]item{{ID: "1", Title: "old"}, {ID: "2", Title: "B"}, {ID: "1", Title: "new"}})

	want := []item{{ID: "1", Title: "new"}, {ID: "2", Title: "B"}}
	if got := s.Items(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

// =============================================================================
// Pending set and observers
// =============================================================================

func TestIsPendingCountsOverlappingOperations(t *testing.T) {
	s := newTestStore(WithItems([]item{{ID: "1", Title: "A"}}))

	firstRelease := make(chan struct{})
	secondRelease := make(chan struct{})
	firstStarted := make(chan struct{})
	secondStarted := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.OptimisticUpdate(context.Background(), "1", withTitle("B"), func(context.Context) (item, error) {
			close(firstStarted)
			<-firstRelease
			return item{ID: "1", Title: "B"}, nil
		})
	}()
	<-firstStarted
	go func() {
		defer wg.Done()
		_, _ = s.OptimisticUpdate(context.Background(), "1", withTitle("C"), func(context.Context) (item, error) {
			close(secondStarted)
			<-secondRelease
			return item{}, errServer
		})
	}()
	<-secondStarted

	close(firstRelease)
	waitFor(t, func() bool { v, _ := s.Get("1"); return v.Title == "B" })
	if !s.IsPending("1") {
		t.Error("expected id 1 pending while the second update is in flight")
	}

	close(secondRelease)
	wg.Wait()
	if s.IsPending("1") {
		t.Error("expected id 1 resolved after both updates")
	}
}

func TestObserversSeeApplyAndResolve(t *testing.T) {
	s := newTestStore(WithItems([]item{{ID: "1", Title: "A"}}))

	var mu sync.Mutex
	var titles []string
	cancel := s.Subscribe(func(items []item) {
		mu.Lock()
		defer mu.Unlock()
		titles = append(titles, items[0].Title)
	})
	defer cancel()

	_, _ = s.OptimisticUpdate(context.Background(), "1", withTitle("B"), func(context.Context) (item, error) {
		return item{}, errServer
	})

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(titles, []string{"B", "A"}) {
		t.Errorf("expected observers to see [B A], got %v", titles)
	}
}

func TestClosedStoreStopsNotifying(t *testing.T) {
	s := newTestStore()

	calls := 0
	s.Subscribe(func([]item) { calls++ })
	s.Close()

	s.ReplaceAll([]item{{ID: "1"}})
	_, _ = s.OptimisticAdd(context.Background(), item{Title: "x"}, func(context.Context) (item, error) {
		return item{ID: "2", Title: "x"}, nil
	})

	if calls != 0 {
		t.Errorf("expected no notifications after close, got %d", calls)
	}
	if s.Len() != 2 {
		t.Errorf("expected state to keep updating after close, got %d items", s.Len())
	}
}

func TestItemsReturnsCopy(t *testing.T) {
	s := newTestStore(WithItems([]item{{ID: "1", Title: "A"}}))
	items := s.Items()
	items[0].Title = "mutated"
	if got, _ := s.Get("1"); got.Title != "A" {
		t.Error("callers must not be able to mutate store items")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
