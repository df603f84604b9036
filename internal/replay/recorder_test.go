package replay

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRecorderRollsToBundle(t *testing.T) {
	dir := t.TempDir()
	current := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	recorder, err := NewRecorder(dir, Header{Mode: "deathmatch", TickRate: 30}, 8, clock)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if _, err := recorder.Roll("empty"); err == nil {
		t.Fatalf("expected rolling an empty recorder to fail")
	}

	recorder.AppendEvent(0, "join", map[string]any{"player": 1})
	recorder.AppendFrame(0, []byte{1, 2, 3})
	current = current.Add(10 * time.Millisecond)
	recorder.AppendFrame(1, []byte{4, 5})
	recorder.AppendEvent(1, "leave", nil)

	stats := recorder.Snapshot()
	if stats.BufferedFrames != 2 || stats.BufferedEvents != 2 || stats.BufferedBytes != 5 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	path, err := recorder.Roll("")
	if err != nil {
		t.Fatalf("Roll: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("unexpected roll directory: %s", path)
	}
	bundle, err := ReadBundle(path)
	if err != nil {
		t.Fatalf("ReadBundle: %v", err)
	}
	if bundle.Header.MatchID == "" || bundle.Header.Mode != "deathmatch" {
		t.Fatalf("expected a generated match id, got %+v", bundle.Header)
	}
	entries := bundle.Entries()
	if len(entries) != 4 || entries[0].Type != EntryFrame || entries[1].Type != "join" || entries[3].Type != "leave" {
		t.Fatalf("unexpected timeline %+v", entries)
	}
	if !entries[0].CapturedAt.Equal(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected original capture time, got %v", entries[0].CapturedAt)
	}

	after := recorder.Snapshot()
	if after.BufferedFrames != 0 || after.Dumps != 1 || after.LastDumpURI != path {
		t.Fatalf("expected buffer reset after roll, got %+v", after)
	}
}

func TestRecorderEvictsOldestFrames(t *testing.T) {
	recorder, err := NewRecorder(t.TempDir(), Header{TickRate: 30}, 2, nil)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	recorder.AppendEvent(0, "join", nil)
	for tick := uint32(0); tick < 4; tick++ {
		recorder.AppendFrame(tick, []byte{byte(tick)})
	}
	stats := recorder.Snapshot()
	if stats.BufferedFrames != 2 || stats.Evicted != 2 || stats.BufferedBytes != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.BufferedEvents != 0 {
		t.Fatalf("expected events older than the window dropped, got %d", stats.BufferedEvents)
	}
}
