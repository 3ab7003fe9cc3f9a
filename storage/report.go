package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ReportWriter writes the final market analysis to a dated markdown artifact.
// Regenerating on the same calendar day overwrites the previous artifact.
type ReportWriter struct {
	dir string
}

// NewReportWriter creates a ReportWriter rooted at dir. Intermediate
// directories are created automatically.
func NewReportWriter(dir string) (*ReportWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("report: create output dir: %w", err)
	}
	return &ReportWriter{dir: dir}, nil
}

// Write stores the report text under analysis-YYYY-MM-DD.md for the given day
// and returns the artifact path.
func (w *ReportWriter) Write(day time.Time, text string) (string, error) {
	date := day.Format("2006-01-02")
	path := filepath.Join(w.dir, "analysis-"+date+".md")

	content := fmt.Sprintf("# フリマ市場分析レポート - %s\n\n%s\n", date, text)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("report: write %q: %w", path, err)
	}
	return path, nil
}
