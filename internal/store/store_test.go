// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"path/filepath"
	"testing"

	"redditwatch/internal/testutil"
)

func TestMemStore(t *testing.T) {
	t.Parallel()
	testStore(t, NewMemStore())
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	s, err := NewSQLiteStore(t.Context(), filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, s)
}

func testStore(t *testing.T, s Store) {
	ctx := context.Background()
	t.Cleanup(func() { s.Close() })

	// Missing key reports (nil, nil).
	val, err := s.Get(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, val, []byte(nil))

	if err := s.Set(ctx, "greeting", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	val, err = s.Get(ctx, "greeting")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(val), "hello")

	// Overwrite.
	if err := s.Set(ctx, "greeting", []byte("hi")); err != nil {
		t.Fatal(err)
	}
	val, err = s.Get(ctx, "greeting")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(val), "hi")

	// Delete is idempotent.
	if err := s.Delete(ctx, "greeting"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "greeting"); err != nil {
		t.Fatal(err)
	}
	val, err = s.Get(ctx, "greeting")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, val, []byte(nil))
}

func TestMemStoreReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()

	if err := s.Set(ctx, "key", []byte("value")); err != nil {
		t.Fatal(err)
	}
	val, err := s.Get(ctx, "key")
	if err != nil {
		t.Fatal(err)
	}
	val[0] = 'X'

	val2, err := s.Get(ctx, "key")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(val2), "value")
}
