package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestMemStore(t *testing.T) {
	testStore(t, NewMemStore())
}

// testStore exercises the Store contract that all backends must satisfy.
func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("load missing conversation", func(t *testing.T) {
		if _, _, err := s.LoadLatest(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.Load(ctx, "ghost", 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("save and load latest", func(t *testing.T) {
		if err := s.Save(ctx, "conv-a", 1, []byte("one")); err != nil {
			t.Fatal(err)
		}
		if err := s.Save(ctx, "conv-a", 2, []byte("two")); err != nil {
			t.Fatal(err)
		}

		data, seq, err := s.LoadLatest(ctx, "conv-a")
		if err != nil {
			t.Fatal(err)
		}
		if seq != 2 || string(data) != "two" {
			t.Errorf("expected seq 2 data two, got %d %q", seq, data)
		}

		data, err = s.Load(ctx, "conv-a", 1)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "one" {
			t.Errorf("expected data one, got %q", data)
		}
	})

	t.Run("overwrite same sequence", func(t *testing.T) {
		if err := s.Save(ctx, "conv-a", 2, []byte("two-again")); err != nil {
			t.Fatal(err)
		}
		data, seq, err := s.LoadLatest(ctx, "conv-a")
		if err != nil {
			t.Fatal(err)
		}
		if seq != 2 || string(data) != "two-again" {
			t.Errorf("expected overwritten snapshot, got %d %q", seq, data)
		}
	})

	t.Run("list is sorted", func(t *testing.T) {
		if err := s.Save(ctx, "conv-c", 1, []byte("c")); err != nil {
			t.Fatal(err)
		}
		if err := s.Save(ctx, "conv-b", 1, []byte("b")); err != nil {
			t.Fatal(err)
		}
		ids, err := s.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"conv-a", "conv-b", "conv-c"}
		if !reflect.DeepEqual(ids, want) {
			t.Errorf("expected %v, got %v", want, ids)
		}
	})

	t.Run("delete removes all snapshots", func(t *testing.T) {
		if err := s.Delete(ctx, "conv-a"); err != nil {
			t.Fatal(err)
		}
		if _, _, err := s.LoadLatest(ctx, "conv-a"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		// Deleting again is not an error.
		if err := s.Delete(ctx, "conv-a"); err != nil {
			t.Errorf("unexpected error deleting missing conversation: %v", err)
		}
	})

	if err := s.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
}
