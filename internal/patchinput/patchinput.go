// Package patchinput implements the Patch Input Resolver: it locates
// the single patch file or archive a run should apply, and classifies
// it as a unified-diff bundle or a patch script.
package patchinput

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/boshu2/patchrunner/internal/taxonomy"
	"github.com/boshu2/patchrunner/internal/types"
)

var candidateExts = []string{".py", ".patch", ".zip"}

// Resolve picks the patch input in priority order: --rerun-latest scan,
// explicit path, then the deterministic default.
func Resolve(paths types.Paths, issueID, explicitPath, rerunHint string, rerunLatest, forceUnified bool) (types.PatchPlan, error) {
	var resolved string
	var err error

	switch {
	case rerunLatest:
		resolved, err = resolveRerunLatest(paths, issueID, rerunHint)
	case explicitPath != "":
		resolved, err = resolveExplicit(paths, explicitPath)
	default:
		resolved, err = resolveDefault(paths, issueID)
	}
	if err != nil {
		return types.PatchPlan{}, err
	}

	mode, err := classify(resolved)
	if err != nil {
		return types.PatchPlan{}, err
	}
	if forceUnified && mode != types.PatchModeUnified {
		return types.PatchPlan{}, taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryPatchPath,
			"--unified-patch requires a .patch or .zip input, got "+resolved)
	}

	return types.PatchPlan{Path: resolved, Mode: mode}, nil
}

// resolveRerunLatest scans the patch root and the successful/unsuccessful
// subdirectories for inputs matching hint (or "issue_<ID>") and returns
// the newest by mtime, breaking ties lexically.
func resolveRerunLatest(paths types.Paths, issueID, hint string) (string, error) {
	prefix := hint
	if prefix == "" {
		prefix = "issue_" + issueID
	}

	dirs := []string{paths.PatchDir, paths.SuccessfulDir, paths.UnsuccessfulDir}
	type candidate struct {
		path    string
		modTime int64
	}
	var found []candidate

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			found = append(found, candidate{path: filepath.Join(dir, e.Name()), modTime: info.ModTime().UnixNano()})
		}
	}
	if len(found) == 0 {
		return "", taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryPatchPath,
			"--rerun-latest found no patch input matching "+prefix)
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].modTime != found[j].modTime {
			return found[i].modTime > found[j].modTime
		}
		return found[i].path < found[j].path
	})
	return found[0].path, nil
}

// resolveExplicit accepts an absolute, cwd-relative, or patch_dir-relative
// path, and rejects anything outside the configured patch root.
func resolveExplicit(paths types.Paths, explicit string) (string, error) {
	var candidate string
	if filepath.IsAbs(explicit) {
		candidate = explicit
	} else if _, err := os.Stat(explicit); err == nil {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return "", taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryPatchPath, err, "resolve patch path")
		}
		candidate = abs
	} else {
		candidate = filepath.Join(paths.PatchDir, explicit)
	}

	root, err := filepath.Abs(paths.PatchDir)
	if err != nil {
		return "", taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryPatchPath, err, "resolve patch root")
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryPatchPath, err, "resolve patch candidate")
	}
	if !within(root, candAbs) {
		return "", taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryPatchPath,
			candAbs+" is outside the configured patch root "+root)
	}
	if _, err := os.Stat(candAbs); err != nil {
		return "", taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryPatchPath, err, "patch input not found")
	}
	return candAbs, nil
}

// resolveDefault picks patches/issue_<ID>.<ext> when exactly one of the
// candidate extensions exists.
func resolveDefault(paths types.Paths, issueID string) (string, error) {
	base := filepath.Join(paths.PatchDir, "issue_"+issueID)
	var present []string
	for _, ext := range candidateExts {
		if _, err := os.Stat(base + ext); err == nil {
			present = append(present, base+ext)
		}
	}
	switch len(present) {
	case 0:
		return "", taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryPatchPath,
			"no patch input found at "+base+"{.py,.patch,.zip}")
	case 1:
		return present[0], nil
	default:
		return "", taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryPatchPath,
			"ambiguous default patch input, more than one candidate: "+strings.Join(present, ", "))
	}
}

// classify determines whether path is a unified-diff bundle or a
// script.
func classify(path string) (types.UnifiedMode, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".patch":
		return types.PatchModeUnified, nil
	case ".py":
		return types.PatchModeScript, nil
	case ".zip":
		hasPatch, err := zipHasPatchEntry(path)
		if err != nil {
			return "", taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryPatchPath, err, "inspect zip patch input")
		}
		if hasPatch {
			return types.PatchModeUnified, nil
		}
		return "", taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryPatchPath,
			path+" is a zip with no .patch entries")
	default:
		return "", taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryPatchPath,
			"unrecognised patch input extension: "+path)
	}
}

func zipHasPatchEntry(path string) (bool, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return false, err
	}
	defer r.Close()
	for _, f := range r.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".patch") {
			return true, nil
		}
	}
	return false, nil
}

func within(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}
