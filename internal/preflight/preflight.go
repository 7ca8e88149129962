package preflight

import (
	"intake/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the checks applicable to cfg. The watched directory is only
// checked when one is configured.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	if cfg.Watch.Directory != "" {
		results = append(results, CheckDirectoryAccess("Watch directory", cfg.Watch.Directory))
		results = append(results, CheckDirectoryAccess("Root directory", cfg.RootDir()))
	}
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
