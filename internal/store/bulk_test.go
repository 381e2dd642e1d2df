package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func TestBulkInsertMany(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s := openTestStore(t, path)

	if err := s.StartBulk(); err != nil {
		t.Fatalf("StartBulk: %v", err)
	}
	for i := 0; i < 100; i++ {
		if err := s.Insert(newItem(s, fmt.Sprintf("item-%d", i))); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	// Nothing is committed until the window closes.
	if n, _ := s.Count("item"); n != 0 {
		t.Errorf("Count during bulk = %d, want 0", n)
	}
	if err := s.FinishBulk(); err != nil {
		t.Fatalf("FinishBulk: %v", err)
	}
	if n, _ := s.Count("item"); n != 100 {
		t.Errorf("Count after bulk = %d, want 100", n)
	}
}

func TestBulkWindowsDoNotNest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s := openTestStore(t, path)

	if err := s.StartBulk(); err != nil {
		t.Fatalf("StartBulk: %v", err)
	}
	if err := s.StartBulk(); !errors.Is(err, ErrBulkActive) {
		t.Errorf("nested StartBulk: %v, want ErrBulkActive", err)
	}
	if err := s.FinishBulk(); err != nil {
		t.Fatalf("FinishBulk: %v", err)
	}
	if err := s.FinishBulk(); !errors.Is(err, ErrNotBulk) {
		t.Errorf("FinishBulk outside window: %v, want ErrNotBulk", err)
	}
}

func TestBulkRemoveCancelsPendingInsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s := openTestStore(t, path)

	if err := s.StartBulk(); err != nil {
		t.Fatalf("StartBulk: %v", err)
	}
	keep := newItem(s, "keep")
	drop := newItem(s, "drop")
	if err := s.Insert(keep); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(drop); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Remove(drop); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.FinishBulk(); err != nil {
		t.Fatalf("FinishBulk: %v", err)
	}
	if n, _ := s.Count("item"); n != 1 {
		t.Errorf("Count = %d, want 1 (cancelled row must never hit disk)", n)
	}
	if _, err := s.GetOrLoad("item", drop.id); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancelled object still loadable: %v", err)
	}
}

func TestBulkUpdateFoldsIntoPendingInsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s := openTestStore(t, path)

	if err := s.StartBulk(); err != nil {
		t.Fatalf("StartBulk: %v", err)
	}
	item := newItem(s, "original")
	if err := s.Insert(item); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	item.Title = "updated"
	if err := s.Update(item); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.FinishBulk(); err != nil {
		t.Fatalf("FinishBulk: %v", err)
	}
	s.Close()

	s2 := openTestStore(t, path)
	obj, err := s2.GetOrLoad("item", item.id)
	if err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	if got := obj.(*testItem).Title; got != "updated" {
		t.Errorf("Title = %q, want updated (single insert carrying latest state)", got)
	}
}

func TestBulkUpdateExistingRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s := openTestStore(t, path)

	item := newItem(s, "v1")
	if err := s.Insert(item); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.StartBulk(); err != nil {
		t.Fatalf("StartBulk: %v", err)
	}
	item.Title = "v2"
	if err := s.Update(item); err != nil {
		t.Fatalf("Update: %v", err)
	}
	item.Title = "v3"
	if err := s.Update(item); err != nil {
		t.Fatalf("second Update: %v", err)
	}
	if err := s.FinishBulk(); err != nil {
		t.Fatalf("FinishBulk: %v", err)
	}
	s.Close()

	s2 := openTestStore(t, path)
	obj, err := s2.GetOrLoad("item", item.id)
	if err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	if got := obj.(*testItem).Title; got != "v3" {
		t.Errorf("Title = %q, want v3", got)
	}
}

func TestBulkInsertNotifierRunsInSameFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s := openTestStore(t, path)

	// A chain of three: each insert spawns the next from its callback,
	// all landing in the flush transaction.
	third := newItem(s, "third")
	second := newItem(s, "second")
	second.inserted = func(ins Inserter) error {
		return ins.Insert(third)
	}
	first := newItem(s, "first")
	first.inserted = func(ins Inserter) error {
		return ins.Insert(second)
	}

	if err := s.StartBulk(); err != nil {
		t.Fatalf("StartBulk: %v", err)
	}
	if err := s.Insert(first); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.FinishBulk(); err != nil {
		t.Fatalf("FinishBulk: %v", err)
	}
	if n, _ := s.Count("item"); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestBulkValidationErrorAtMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s := openTestStore(t, path)

	if err := s.StartBulk(); err != nil {
		t.Fatalf("StartBulk: %v", err)
	}
	bad := newItem(s, "bad")
	bad.Tags = []string{"x:y"}
	if err := s.Insert(bad); err == nil {
		t.Error("Insert with delimiter in set element succeeded")
	}
	if err := s.Insert(newItem(s, "good")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.FinishBulk(); err != nil {
		t.Fatalf("FinishBulk: %v", err)
	}
	if n, _ := s.Count("item"); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestFailedFlushEvictsQueuedInserts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s := openTestStore(t, path)

	if err := s.StartBulk(); err != nil {
		t.Fatalf("StartBulk: %v", err)
	}
	first := newItem(s, "a")
	second := newItem(s, "b")
	second.id = first.id
	if err := s.Insert(first); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(second); err != nil {
		t.Fatalf("second Insert: %v", err)
	}
	// The duplicate id only surfaces at flush, as a UNIQUE violation
	// that rolls back the whole transaction.
	if err := s.FinishBulk(); err == nil {
		t.Fatal("FinishBulk with duplicate ids succeeded")
	}
	if n, _ := s.Count("item"); n != 0 {
		t.Errorf("Count after failed flush = %d, want 0", n)
	}
	if _, err := s.GetOrLoad("item", first.id); !errors.Is(err, ErrNotFound) {
		t.Errorf("rolled-back insert still live: %v, want ErrNotFound", err)
	}
	if n := s.LiveObjectCount(); n != 0 {
		t.Errorf("LiveObjectCount after failed flush = %d, want 0", n)
	}
}

func TestCloseFlushesOpenBulkWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s := openTestStore(t, path)

	if err := s.StartBulk(); err != nil {
		t.Fatalf("StartBulk: %v", err)
	}
	item := newItem(s, "pending")
	if err := s.Insert(item); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2 := openTestStore(t, path)
	if n, _ := s2.Count("item"); n != 1 {
		t.Errorf("Count after close-with-open-window = %d, want 1", n)
	}
}
