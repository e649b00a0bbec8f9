// Package scope implements the Scope Enforcer: it compares the files a
// patch declared against the files it actually touched and fails the
// run when they diverge outside the policy's tolerances.
package scope

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/boshu2/patchrunner/internal/taxonomy"
	"github.com/boshu2/patchrunner/internal/types"
)

// runnerPrefixes are directories the runner itself writes to that never
// count as a patch touching a file.
var runnerPrefixes = []string{".am_patch/", ".pytest_cache/", "__pycache__/", ".ruff_cache/", ".mypy_cache/"}

// Result is the outcome of evaluating scope for one patch application.
type Result struct {
	Touched          []string
	Outside          []string
	UntouchedDeclared []string
	Legalized        []string // outside paths folded into the allowed-union
}

// Evaluate computes touched/outside/untouched_declared from the before
// and after workspace `git status --porcelain` snapshots and enforces
// policy, returning the evaluated Result or a *taxonomy.RunnerError.
func Evaluate(policy *types.Policy, declared, beforeStatus, afterStatus []string) (Result, error) {
	touched := diffWorkfiles(pathSet(beforeStatus), pathSet(afterStatus), policy.IgnoreGlobs)

	if len(touched) == 0 {
		if !policy.AllowNoOp {
			return Result{}, taxonomy.New(taxonomy.StageScope, taxonomy.CategoryNoop, "patch touched no files")
		}
		return Result{Touched: touched}, nil
	}

	allowed := union(declared, policy.BlessedGateOutputs)
	outside := subtract(touched, allowed)
	if len(outside) > 0 {
		if !policy.AllowOutsideFiles {
			return Result{}, taxonomy.New(taxonomy.StageScope, taxonomy.CategoryScope,
				"patch touched files outside the declared set: "+strings.Join(outside, ", "))
		}
	}

	untouchedDeclared := subtract(declared, touched)
	if len(untouchedDeclared) > 0 && !policy.AllowDeclaredUntouched {
		return Result{}, taxonomy.New(taxonomy.StageScope, taxonomy.CategoryScope,
			"patch declared files it never touched: "+strings.Join(untouchedDeclared, ", "))
	}

	result := Result{
		Touched:           touched,
		Outside:           outside,
		UntouchedDeclared: untouchedDeclared,
	}
	if len(outside) > 0 && policy.AllowOutsideFiles {
		result.Legalized = outside
	}
	return result, nil
}

// diffWorkfiles computes after \ before, excluding runner-managed prefixes
// and anything matching policy's ignore globs. before/after are keyed by
// "path -> full status line", so a file whose status changed (e.g.
// untracked -> modified) is picked up even though the path already
// existed.
func diffWorkfiles(before, after map[string]string, ignoreGlobs []string) []string {
	var out []string
	for p, line := range after {
		if before[p] == line {
			continue
		}
		if isRunnerWorkfile(p) || matchesAnyGlob(p, ignoreGlobs) {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// pathSet maps each porcelain status line ("XY path" or "XY old -> new")
// to its repo-relative path, keyed by path for set comparison.
func pathSet(statusLines []string) map[string]string {
	m := make(map[string]string, len(statusLines))
	for _, line := range statusLines {
		path := statusPath(line)
		if path != "" {
			m[path] = line
		}
	}
	return m
}

// statusPath extracts the repo-relative path from a porcelain status
// line, taking the rename target when the line is "XY old -> new".
func statusPath(line string) string {
	if len(line) < 4 {
		return ""
	}
	rest := strings.TrimSpace(line[3:])
	if idx := strings.Index(rest, " -> "); idx >= 0 {
		return rest[idx+4:]
	}
	return rest
}

func isRunnerWorkfile(path string) bool {
	for _, prefix := range runnerPrefixes {
		if strings.HasPrefix(path, prefix) || strings.Contains(path, "/"+prefix) {
			return true
		}
	}
	return strings.HasSuffix(path, ".pyc")
}

func matchesAnyGlob(path string, globs []string) bool {
	for _, g := range globs {
		if ok, err := filepath.Match(g, path); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(g, filepath.Base(path)); err == nil && ok {
			return true
		}
	}
	return false
}

func setOf(paths []string) map[string]struct{} {
	m := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		m[p] = struct{}{}
	}
	return m
}

func union(a, b []string) []string {
	m := setOf(a)
	for _, p := range b {
		m[p] = struct{}{}
	}
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func subtract(a, b []string) []string {
	bs := setOf(b)
	var out []string
	for _, p := range a {
		if _, ok := bs[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
