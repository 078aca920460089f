package lsm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
)

func TestStore_Segmentation(t *testing.T) {
	dir := t.TempDir()

	// Set a small max segment size to trigger rotation quickly
	store := openTestStore(t, dir)
	store.maxSegmentSize = 100
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		rec := mustRecord(t, fmt.Sprintf("key-%d", i), fmt.Sprintf("data-content-%d", i), v("a", int64(i+1)))
		if _, err := store.Apply(ctx, rec); err != nil {
			t.Fatalf("Failed to apply record %d: %v", i, err)
		}
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "records", SegmentPrefix+"*"+SegmentSuffix))
	if len(matches) < 2 {
		t.Errorf("Expected at least 2 segments, got %d", len(matches))
	}

	for i := 0; i < 10; i++ {
		got, err := store.Get(ctx, domain.NewKey("ns", []byte(fmt.Sprintf("key-%d", i))))
		if err != nil {
			t.Fatalf("Failed to read record %d: %v", i, err)
		}
		if want := fmt.Sprintf("data-content-%d", i); string(got.Value) != want {
			t.Errorf("Record %d: expected %q, got %q", i, want, string(got.Value))
		}
	}

	// Replay across segments rebuilds the same index
	_ = store.Close()
	reopened := openTestStore(t, dir)
	defer func() { _ = reopened.Close() }()
	if reopened.Len() != 10 {
		t.Errorf("Expected 10 keys after reopen, got %d", reopened.Len())
	}
	if _, err := os.Stat(filepath.Join(dir, "records")); err != nil {
		t.Fatal(err)
	}
}
