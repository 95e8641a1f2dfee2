package logging

import (
	"path/filepath"
	"strings"
)

// IsLogFile reports whether path is logFile or one of the backups rotation
// leaves beside it (<stem>-<timestamp><ext>, optionally gzipped).
func IsLogFile(logFile, path string) bool {
	if strings.TrimSpace(logFile) == "" {
		return false
	}
	logFile = filepath.Clean(logFile)
	path = filepath.Clean(path)
	if path == logFile {
		return true
	}
	if filepath.Dir(path) != filepath.Dir(logFile) {
		return false
	}
	base := filepath.Base(logFile)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := strings.TrimSuffix(filepath.Base(path), ".gz")
	return strings.HasPrefix(name, stem+"-") && strings.HasSuffix(name, ext) && len(name) > len(stem)+1+len(ext)
}
