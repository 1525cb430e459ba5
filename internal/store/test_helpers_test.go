package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/ormcore/internal/meta"
	"github.com/roach88/ormcore/internal/testutil"
)

// createTestStore opens a store in a temp dir with the bookstore schema and
// seed data loaded.
func createTestStore(t *testing.T) (*Store, *meta.Registry) {
	t.Helper()
	reg := testutil.Bookstore(t)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, reg)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	if err := s.Exec(ctx, testutil.BookstoreDDL); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if err := s.Exec(ctx, testutil.BookstoreSeed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s, reg
}
