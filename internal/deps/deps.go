// Package deps reports on external binaries and host resources the daemon
// relies on.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"colabsfm/internal/config"
)

// Kind distinguishes what a requirement points at.
type Kind string

const (
	KindBinary    Kind = "binary"
	KindDirectory Kind = "directory"
)

// Requirement is a binary or directory the daemon needs.
type Requirement struct {
	Name        string
	Kind        Kind
	Target      string
	Description string
	Optional    bool
}

// Status is the outcome of checking one Requirement.
type Status struct {
	Requirement
	Available bool
	Detail    string
}

// Requirements derives the checks implied by cfg: the colmap binary and a
// writable regions root.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	return []Requirement{
		{
			Name:        "COLMAP",
			Kind:        KindBinary,
			Target:      cfg.Colmap.Binary,
			Description: "Runs feature extraction, matching, and sparse mapping",
		},
		{
			Name:        "Regions root",
			Kind:        KindDirectory,
			Target:      cfg.Paths.RootDir,
			Description: "Holds region images, colmap databases, and sparse models",
		},
	}
}

// Check evaluates every requirement in order.
func Check(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Target = strings.TrimSpace(req.Target)
		req.Description = strings.TrimSpace(req.Description)
		status := Status{Requirement: req}
		if err := probe(req); err != nil {
			status.Detail = err.Error()
		} else {
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}

func probe(req Requirement) error {
	if req.Target == "" {
		return fmt.Errorf("%s not configured", req.Kind)
	}
	switch req.Kind {
	case KindDirectory:
		if err := writableDir(req.Target); err != nil {
			return fmt.Errorf("directory %q not writable: %w", req.Target, err)
		}
	default:
		if _, err := exec.LookPath(req.Target); err != nil {
			return fmt.Errorf("binary %q not found", req.Target)
		}
	}
	return nil
}

// MissingRequired returns the names of unavailable non-optional dependencies.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status.Name)
		}
	}
	return missing
}
