package replay

import (
	"path/filepath"
	"testing"
	"time"
)

func TestListCollectsBundleHeaders(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 10, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"beta", "alpha"} {
		writer, _, err := NewWriter(dir, Header{MatchID: id, Mode: "deathmatch", TickRate: 30}, func() time.Time { return now })
		if err != nil {
			t.Fatalf("writer %s: %v", id, err)
		}
		if err := writer.AppendFrame(1, []byte{1}); err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].Header.MatchID != "alpha" || entries[1].Header.MatchID != "beta" {
		t.Fatalf("expected entries ordered by match id, got %q then %q", entries[0].Header.MatchID, entries[1].Header.MatchID)
	}
	if entries[0].HeaderPath != filepath.Join(entries[0].BundlePath, headerName) {
		t.Fatalf("unexpected header path %q", entries[0].HeaderPath)
	}
	if payload, err := MarshalCatalog(entries); err != nil || len(payload) == 0 {
		t.Fatalf("MarshalCatalog: %v", err)
	}
}

func TestListRejectsMissingRoot(t *testing.T) {
	if _, err := List(""); err == nil {
		t.Fatalf("expected an error for an empty root")
	}
	if _, err := List(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected an error for a missing root")
	}
}
