package objectstore

import (
	"context"
	"sort"
	"testing"
)

func TestLocalStore_PutGetRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()
	key := RawFileKey("abc123")

	if err := store.Put(ctx, key, []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestLocalStore_PutIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewLocalStore(dir)
	ctx := context.Background()
	key := RawFileKey("dup")

	if err := store.Put(ctx, key, []byte("first")); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := store.Put(ctx, key, []byte("second")); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	got, _ := store.Get(ctx, key)
	if string(got) != "first" {
		t.Fatalf("expected idempotent put to keep original content, got %q", got)
	}
}

func TestLocalStore_ListByPrefix(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewLocalStore(dir)
	ctx := context.Background()

	for _, k := range []string{RawFileKey("a"), RawFileKey("b"), OutputParquetKey("out1")} {
		if err := store.Put(ctx, k, []byte("x")); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}

	keys, err := store.List(ctx, "raw-files/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sort.Strings(keys)
	want := []string{"raw-files/a", "raw-files/b"}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Fatalf("got %v, want %v", keys, want)
	}
}

func TestLocalStore_DeleteAbsentKeyIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewLocalStore(dir)
	if err := store.Delete(context.Background(), RawFileKey("never-existed")); err != nil {
		t.Fatalf("Delete of absent key should be a no-op, got %v", err)
	}
}
