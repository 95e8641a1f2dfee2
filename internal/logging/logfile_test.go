package logging_test

import (
	"path/filepath"
	"testing"

	"antman/internal/logging"
)

func TestIsLogFileMatchesRotatedBackups(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "antman.log")
	tests := []struct {
		path string
		want bool
	}{
		{logFile, true},
		{filepath.Join(dir, "antman-2026-10-19T08-00-00.000.log"), true},
		{filepath.Join(dir, "antman-2026-10-19T08-00-00.000.log.gz"), true},
		{filepath.Join(dir, "antman-.log"), false},
		{filepath.Join(dir, "antman.fastq"), false},
		{filepath.Join(dir, "other.log"), false},
		{filepath.Join(dir, "nested", "antman.log"), false},
	}
	for _, tt := range tests {
		if got := logging.IsLogFile(logFile, tt.path); got != tt.want {
			t.Errorf("IsLogFile(%q) = %v, want %v", filepath.Base(tt.path), got, tt.want)
		}
	}
	if logging.IsLogFile("", logFile) {
		t.Error("empty log file must match nothing")
	}
}
