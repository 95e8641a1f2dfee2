package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"antman/internal/config"
)

// Requirement names an external binary a processor backend invokes.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports whether a requirement resolved on PATH.
type Status struct {
	Requirement
	Path      string
	Available bool
	Detail    string
}

// ForProcessor lists the binaries the configured backend shells out to.
// The none backend needs nothing.
func ForProcessor(p config.Processor) []Requirement {
	switch p.Kind {
	case config.ProcessorExec:
		return []Requirement{{
			Name:        "Shrink command",
			Command:     p.Command,
			Description: "Invoked once per eligible file",
		}}
	case config.ProcessorDrapto:
		return []Requirement{
			{Name: "FFmpeg", Command: "ffmpeg", Description: "Used by drapto for encoding"},
			{Name: "FFprobe", Command: "ffprobe", Description: "Used by drapto for media analysis"},
		}
	default:
		return nil
	}
}

// CheckBinaries resolves each requirement on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		status := Status{Requirement: req}
		switch path, err := exec.LookPath(req.Command); {
		case req.Command == "":
			status.Detail = "command not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", req.Command)
		default:
			status.Path = path
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}
