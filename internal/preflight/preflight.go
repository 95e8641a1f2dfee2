package preflight

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"antman/internal/config"
	"antman/internal/deps"
)

// Result reports the outcome of a single check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll checks the watch directory (when set) and the processor binaries.
func RunAll(cfg *config.Config, watchDir string) []Result {
	if cfg == nil {
		return nil
	}
	var results []Result
	if strings.TrimSpace(watchDir) != "" {
		results = append(results, CheckDirectoryAccess("Watch directory", watchDir))
	}
	for _, status := range deps.CheckBinaries(deps.ForProcessor(cfg.Processor)) {
		results = append(results, fromStatus(status))
	}
	return results
}

// Failed filters results down to required checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}

// CheckDirectoryAccess verifies that path is a directory the daemon can list
// and replace files in.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func fromStatus(status deps.Status) Result {
	r := Result{Name: status.Name, Passed: status.Available, Optional: status.Optional}
	if status.Available {
		r.Detail = status.Path
	} else {
		r.Detail = status.Detail
	}
	return r
}
