package us

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProgressTrackerNoDataSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	first, err := newProgressTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.MarkNoData("ZVZZT", "XTSLA"); err != nil {
		t.Fatal(err)
	}
	if err := first.MarkNoData("QQQX"); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := newProgressTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	for _, sym := range []string{"ZVZZT", "XTSLA", "QQQX"} {
		if !second.HasNoData(sym) {
			t.Errorf("HasNoData(%q) = false after restart", sym)
		}
	}
	if second.HasNoData("AAPL") {
		t.Error("HasNoData(AAPL) = true, never marked")
	}
}

func TestProgressTrackerCompleted(t *testing.T) {
	pt, err := newProgressTracker(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer pt.Close()

	if pt.LastCompleted() != "" {
		t.Errorf("LastCompleted() = %q on a fresh directory", pt.LastCompleted())
	}
	if err := pt.MarkCompleted("2025-02-10"); err != nil {
		t.Fatal(err)
	}
	if got := pt.LastCompleted(); got != "2025-02-10" {
		t.Errorf("LastCompleted() = %q, want 2025-02-10", got)
	}
	if !pt.IsCompleted("2025-02-10") || pt.IsCompleted("2025-02-11") {
		t.Error("IsCompleted must match only the marked session")
	}
}

func TestProgressTrackerReset(t *testing.T) {
	dir := t.TempDir()
	// Leftovers of an interrupted run for an earlier session.
	if err := os.WriteFile(filepath.Join(dir, noDataFile), []byte("XXXX\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	pt, err := newProgressTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer pt.Close()
	if !pt.HasNoData("XXXX") {
		t.Fatal("HasNoData(XXXX) = false, want the leftover loaded")
	}

	if err := pt.Reset(); err != nil {
		t.Fatal(err)
	}
	if pt.HasNoData("XXXX") {
		t.Error("HasNoData(XXXX) = true after Reset")
	}
	data, err := os.ReadFile(filepath.Join(dir, noDataFile))
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(data) > 0 {
		t.Errorf("%s holds %q after Reset, want empty", noDataFile, data)
	}
}
