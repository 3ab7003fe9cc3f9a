package storage

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestReportWriterDatedArtifact(t *testing.T) {
	w, err := NewReportWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewReportWriter: %v", err)
	}

	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	path, err := w.Write(day, "本日の売れ筋まとめ")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasSuffix(path, "analysis-2026-03-14.md") {
		t.Errorf("artifact path: got %q, want analysis-2026-03-14.md suffix", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.Contains(string(content), "2026-03-14") || !strings.Contains(string(content), "本日の売れ筋まとめ") {
		t.Errorf("artifact missing header or body: %q", content)
	}
}

func TestReportWriterOverwritesSameDay(t *testing.T) {
	w, err := NewReportWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewReportWriter: %v", err)
	}

	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	if _, err := w.Write(day, "first run"); err != nil {
		t.Fatalf("first write: %v", err)
	}
	path, err := w.Write(day, "second run")
	if err != nil {
		t.Fatalf("second write: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if strings.Contains(string(content), "first run") {
		t.Errorf("same-day rerun should overwrite the artifact")
	}
	if !strings.Contains(string(content), "second run") {
		t.Errorf("artifact missing latest report text")
	}
}
