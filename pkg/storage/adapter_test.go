package storage

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tarnlabs/tarn/pkg/types"
)

const testRepo = "test-repo"

func openAdapters(t *testing.T) map[string]Adapter {
	t.Helper()
	bolt, err := NewBolt(filepath.Join(t.TempDir(), "tarn.db"))
	if err != nil {
		t.Fatalf("failed to open bolt adapter: %v", err)
	}
	t.Cleanup(func() { bolt.Close() })
	return map[string]Adapter{
		"memory": NewMemory(),
		"bolt":   bolt,
	}
}

func id(seed byte) types.ID {
	var out types.ID
	for i := range out {
		out[i] = seed
	}
	return out
}

func TestAdapterPutGet(t *testing.T) {
	ctx := context.Background()
	for name, adapter := range openAdapters(t) {
		t.Run(name, func(t *testing.T) {
			data := []byte("commit bytes")
			if err := adapter.Put(ctx, testRepo, BucketCommits, id(1), data); err != nil {
				t.Fatalf("put failed: %v", err)
			}

			got, err := adapter.Get(ctx, testRepo, BucketCommits, id(1))
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("got %q, want %q", got, data)
			}

			// Identical re-put is idempotent.
			if err := adapter.Put(ctx, testRepo, BucketCommits, id(1), data); err != nil {
				t.Errorf("idempotent put failed: %v", err)
			}

			// Different bytes under the same id are rejected.
			err = adapter.Put(ctx, testRepo, BucketCommits, id(1), []byte("other"))
			if !errors.Is(err, ErrAlreadyExists) {
				t.Errorf("conflicting put: got %v, want ErrAlreadyExists", err)
			}

			_, err = adapter.Get(ctx, testRepo, BucketCommits, id(9))
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("missing get: got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestAdapterRepoIsolation(t *testing.T) {
	ctx := context.Background()
	for name, adapter := range openAdapters(t) {
		t.Run(name, func(t *testing.T) {
			if err := adapter.Put(ctx, "repo-a", BucketCommits, id(1), []byte("a")); err != nil {
				t.Fatal(err)
			}
			if _, err := adapter.Get(ctx, "repo-b", BucketCommits, id(1)); !errors.Is(err, ErrNotFound) {
				t.Errorf("repo isolation broken: got %v", err)
			}
		})
	}
}

func TestAdapterGetMany(t *testing.T) {
	ctx := context.Background()
	for name, adapter := range openAdapters(t) {
		t.Run(name, func(t *testing.T) {
			for _, seed := range []byte{1, 2, 3} {
				if err := adapter.Put(ctx, testRepo, BucketIndexSegments, id(seed), []byte{seed}); err != nil {
					t.Fatal(err)
				}
			}

			got, err := adapter.GetMany(ctx, testRepo, BucketIndexSegments, []types.ID{id(3), id(9), id(1)})
			if err != nil {
				t.Fatalf("getMany failed: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("got %d results, want 3", len(got))
			}
			if !bytes.Equal(got[0], []byte{3}) || got[1] != nil || !bytes.Equal(got[2], []byte{1}) {
				t.Errorf("results out of order or wrong: %v", got)
			}
		})
	}
}

func TestAdapterDelete(t *testing.T) {
	ctx := context.Background()
	for name, adapter := range openAdapters(t) {
		t.Run(name, func(t *testing.T) {
			if err := adapter.Put(ctx, testRepo, BucketAttachments, id(5), []byte("x")); err != nil {
				t.Fatal(err)
			}
			if err := adapter.Delete(ctx, testRepo, BucketAttachments, id(5)); err != nil {
				t.Fatalf("delete failed: %v", err)
			}
			if _, err := adapter.Get(ctx, testRepo, BucketAttachments, id(5)); !errors.Is(err, ErrNotFound) {
				t.Errorf("deleted object still present: %v", err)
			}
			if err := adapter.Delete(ctx, testRepo, BucketAttachments, id(5)); !errors.Is(err, ErrNotFound) {
				t.Errorf("double delete: got %v, want ErrNotFound", err)
			}
		})
	}
}

func TestAdapterCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	for name, adapter := range openAdapters(t) {
		t.Run(name, func(t *testing.T) {
			slot := id(7)

			// Create via nil expectation.
			if err := adapter.CompareAndSwap(ctx, testRepo, BucketRefs, slot, nil, []byte("v1")); err != nil {
				t.Fatalf("cas create failed: %v", err)
			}
			// Second create fails.
			if err := adapter.CompareAndSwap(ctx, testRepo, BucketRefs, slot, nil, []byte("v1")); !errors.Is(err, ErrAlreadyExists) {
				t.Errorf("cas re-create: got %v, want ErrAlreadyExists", err)
			}
			// Swap with correct expectation.
			if err := adapter.CompareAndSwap(ctx, testRepo, BucketRefs, slot, []byte("v1"), []byte("v2")); err != nil {
				t.Fatalf("cas update failed: %v", err)
			}
			// Swap with stale expectation.
			if err := adapter.CompareAndSwap(ctx, testRepo, BucketRefs, slot, []byte("v1"), []byte("v3")); !errors.Is(err, ErrCasMismatch) {
				t.Errorf("stale cas: got %v, want ErrCasMismatch", err)
			}
			// Delete via nil update.
			if err := adapter.CompareAndSwap(ctx, testRepo, BucketRefs, slot, []byte("v2"), nil); err != nil {
				t.Fatalf("cas delete failed: %v", err)
			}
			if _, err := adapter.Get(ctx, testRepo, BucketRefs, slot); !errors.Is(err, ErrNotFound) {
				t.Errorf("cas-deleted slot still present: %v", err)
			}
			// CAS on a missing slot with a non-nil expectation.
			if err := adapter.CompareAndSwap(ctx, testRepo, BucketRefs, slot, []byte("v2"), []byte("v4")); !errors.Is(err, ErrCasMismatch) {
				t.Errorf("cas on missing: got %v, want ErrCasMismatch", err)
			}
		})
	}
}

func TestAdapterCASSingleWinner(t *testing.T) {
	ctx := context.Background()
	for name, adapter := range openAdapters(t) {
		t.Run(name, func(t *testing.T) {
			slot := id(8)
			if err := adapter.CompareAndSwap(ctx, testRepo, BucketRefs, slot, nil, []byte("base")); err != nil {
				t.Fatal(err)
			}

			const racers = 16
			var wg sync.WaitGroup
			wins := make(chan int, racers)
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					err := adapter.CompareAndSwap(ctx, testRepo, BucketRefs, slot, []byte("base"), []byte{byte(i)})
					if err == nil {
						wins <- i
					} else if !errors.Is(err, ErrCasMismatch) {
						t.Errorf("racer %d: unexpected error %v", i, err)
					}
				}(i)
			}
			wg.Wait()
			close(wins)

			if n := len(wins); n != 1 {
				t.Errorf("%d racers won the CAS, want exactly 1", n)
			}
		})
	}
}

func TestAdapterScan(t *testing.T) {
	ctx := context.Background()
	for name, adapter := range openAdapters(t) {
		t.Run(name, func(t *testing.T) {
			for _, seed := range []byte{0x10, 0x11, 0x20, 0x21, 0x30} {
				if err := adapter.Put(ctx, testRepo, BucketCommits, id(seed), []byte{seed}); err != nil {
					t.Fatal(err)
				}
			}

			all, err := adapter.Scan(ctx, testRepo, BucketCommits, nil, nil, 0)
			if err != nil {
				t.Fatalf("scan failed: %v", err)
			}
			if len(all) != 5 {
				t.Fatalf("scanned %d entries, want 5", len(all))
			}
			for i := 1; i < len(all); i++ {
				if all[i-1].ID.Compare(all[i].ID) >= 0 {
					t.Fatal("scan results not in id order")
				}
			}

			// Prefix filter.
			pref, err := adapter.Scan(ctx, testRepo, BucketCommits, []byte{0x20}, nil, 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(pref) != 1 || pref[0].ID != id(0x20) {
				t.Errorf("prefix scan wrong: %v", pref)
			}

			// Cursor resume: page of 2, then continue after the last id.
			page1, err := adapter.Scan(ctx, testRepo, BucketCommits, nil, nil, 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(page1) != 2 {
				t.Fatalf("page1 has %d entries, want 2", len(page1))
			}
			last := page1[len(page1)-1].ID
			page2, err := adapter.Scan(ctx, testRepo, BucketCommits, nil, last[:], 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(page1)+len(page2) != len(all) {
				t.Errorf("pagination lost entries: %d + %d != %d", len(page1), len(page2), len(all))
			}
			if page2[0].ID.Compare(last) <= 0 {
				t.Error("cursor was not exclusive")
			}
		})
	}
}
