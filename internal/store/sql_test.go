//go:build cgo

package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStores(t *testing.T, pub Publisher) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	stores := map[string]Store{}

	duck, err := NewDuckDB(filepath.Join(dir, "live.duckdb"), 10, 10*time.Millisecond, pub)
	if err != nil {
		t.Fatalf("NewDuckDB: %v", err)
	}
	stores[DriverDuckDB] = duck

	lite, err := NewSQLite(filepath.Join(dir, "live.sqlite"), 10, 10*time.Millisecond, pub)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	stores[DriverSQLite] = lite

	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestSQLStores(t *testing.T) {
	for _, driver := range []string{DriverDuckDB, DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			pub := &recordingPublisher{}
			s := openTestStores(t, pub)[driver]
			exerciseStore(t, s, pub)

			st, err := s.Stats(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if st.Driver != driver {
				t.Errorf("Stats.Driver = %q, want %q", st.Driver, driver)
			}
		})
	}
}

func TestSQLStoreBatchesConcurrentAppends(t *testing.T) {
	for _, driver := range []string{DriverDuckDB, DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			pub := &recordingPublisher{}
			s := openTestStores(t, pub)[driver]

			var wg sync.WaitGroup
			for range 35 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := s.Append(context.Background(), sample(time.Now(), 1)); err != nil {
						t.Errorf("Append: %v", err)
					}
				}()
			}
			wg.Wait()

			ids := pub.published()
			if len(ids) != 35 {
				t.Fatalf("published %d, want 35", len(ids))
			}
			for i, id := range ids {
				if id != int64(i+1) {
					t.Fatalf("published[%d] = %d, want %d (commit order)", i, id, i+1)
				}
			}
		})
	}
}

func TestSQLStoreReopenContinuesIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.sqlite")
	ctx := context.Background()

	s, err := NewSQLite(path, 10, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, sample(time.Now(), 1)); err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, err := s.Append(ctx, sample(time.Now(), 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close = %v, want ErrClosed", err)
	}

	s, err = NewSQLite(path, 10, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	m, err := s.Append(ctx, sample(time.Now(), 2))
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != 2 {
		t.Errorf("id after reopen = %d, want 2", m.ID)
	}
}
