package patchexec

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/boshu2/patchrunner/internal/gitops"
	"github.com/boshu2/patchrunner/internal/taxonomy"
	"github.com/boshu2/patchrunner/internal/types"
)

// FailedEntry records one unified-diff entry that failed to apply, kept
// for the failure archive.
type FailedEntry struct {
	Name   string
	Data   []byte
	Reason string
}

// UnifiedResult is the outcome of applying a unified-diff bundle (a
// single .patch file, or the sorted .patch entries of a .zip).
type UnifiedResult struct {
	AppliedOK     int
	AppliedFail   int
	DeclaredFiles []string
	TouchedFiles  []string
	Failures      []FailedEntry
}

type patchEntry struct {
	name string
	data []byte
}

// RunUnified applies every .patch entry in patchPath against
// workspaceRepo, probing the strip depth per entry and normalizing the
// headers before handing the result to "git apply".
func RunUnified(git *gitops.Git, patchPath, workspaceRepo string, policy *types.Policy) (UnifiedResult, error) {
	entries, err := loadEntries(patchPath)
	if err != nil {
		return UnifiedResult{}, err
	}

	var res UnifiedResult
	declared := map[string]struct{}{}
	touched := map[string]struct{}{}

	for _, entry := range entries {
		if policy.ASCIIOnlyPatch && !isASCII(entry.data) {
			return res, taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryPatchASCII,
				"patch contains non-ascii characters: "+entry.name)
		}

		text := string(entry.data)
		rawPaths := parseHeaderPaths(text)

		strip, ok := inferStripDepth(workspaceRepo, rawPaths)
		if !ok {
			res.AppliedFail++
			res.Failures = append(res.Failures, FailedEntry{
				Name: entry.name, Data: entry.data,
				Reason: "ambiguous strip depth",
			})
			continue
		}

		for _, raw := range rawPaths {
			if rel, ok := normalizedRel(raw, strip); ok {
				declared[rel] = struct{}{}
			}
		}

		rewritten, rewrittenPaths := rewritePatchPaths(text, strip)
		for _, rel := range rewrittenPaths {
			declared[rel] = struct{}{}
			touched[rel] = struct{}{}
		}

		patchFile := filepath.Join(workspaceRepo, ".am_patch", "inputs", entry.name)
		if err := writeAtomic(patchFile, []byte(rewritten)); err != nil {
			return res, err
		}

		if err := git.ApplyPatch(workspaceRepo, patchFile, 1); err != nil {
			res.AppliedFail++
			res.Failures = append(res.Failures, FailedEntry{
				Name: entry.name, Data: entry.data,
				Reason: "git apply failed: " + err.Error(),
			})
			continue
		}
		res.AppliedOK++
	}

	res.DeclaredFiles = sortedKeys(declared)
	res.TouchedFiles = sortedKeys(touched)
	return res, nil
}

func loadEntries(patchPath string) ([]patchEntry, error) {
	switch strings.ToLower(filepath.Ext(patchPath)) {
	case ".patch":
		data, err := os.ReadFile(patchPath)
		if err != nil {
			return nil, taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryPatchPath, err, "read patch input")
		}
		return []patchEntry{{name: filepath.Base(patchPath), data: data}}, nil
	case ".zip":
		return loadZipEntries(patchPath)
	default:
		return nil, taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryPatchPath,
			"unified patch input must be .patch or .zip: "+patchPath)
	}
}

func loadZipEntries(zipPath string) ([]patchEntry, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryPatchPath, err, "open zip patch input")
	}
	defer r.Close()

	var names []string
	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, ".patch") {
			continue
		}
		if filepath.IsAbs(f.Name) || strings.Contains(f.Name, "..") {
			continue
		}
		names = append(names, f.Name)
	}
	sort.Strings(names)

	var entries []patchEntry
	for _, name := range names {
		f, err := r.Open(name)
		if err != nil {
			return nil, taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryPatchPath, err, "read zip entry "+name)
		}
		data := make([]byte, 0, 4096)
		buf := make([]byte, 4096)
		for {
			n, readErr := f.Read(buf)
			data = append(data, buf[:n]...)
			if readErr != nil {
				break
			}
		}
		f.Close()
		entries = append(entries, patchEntry{name: filepath.Base(name), data: data})
	}
	return entries, nil
}

// parseHeaderPaths extracts the "---"/"+++" paths from a unified diff,
// verbatim (not yet stripped), for strip-depth probing.
func parseHeaderPaths(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") {
			rest := strings.TrimSpace(line[4:])
			rest = strings.SplitN(rest, "\t", 2)[0]
			out = append(out, strings.TrimSpace(rest))
		}
	}
	return out
}

// normalizePatchPath strips a leading a/ or b/ prefix and ./, and
// canonicalises /dev/null.
func normalizePatchPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "/dev/null" || p == "dev/null" {
		return "/dev/null"
	}
	for _, pre := range []string{"a/", "b/"} {
		if strings.HasPrefix(p, pre) {
			p = p[len(pre):]
			break
		}
	}
	p = strings.TrimPrefix(p, "./")
	return strings.TrimSpace(p)
}

func splitPathParts(p string) []string {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// inferStripDepth probes strip depths 0..len(parts)-1 for the depth
// whose stripped paths have the most existing matches under repo,
// returning ok=false when the best depth is not unique.
func inferStripDepth(repo string, rawPaths []string) (int, bool) {
	scored := map[int]int{}
	for _, raw := range rawPaths {
		n := normalizePatchPath(raw)
		if n == "" || n == "/dev/null" {
			continue
		}
		parts := splitPathParts(n)
		for i := 0; i < len(parts); i++ {
			rel := strings.Join(parts[i:], "/")
			if rel == "" {
				continue
			}
			if _, err := os.Stat(filepath.Join(repo, rel)); err == nil {
				scored[i]++
			}
		}
	}
	if len(scored) == 0 {
		return 0, true
	}
	best := -1
	for _, v := range scored {
		if v > best {
			best = v
		}
	}
	var bestDepths []int
	for depth, v := range scored {
		if v == best {
			bestDepths = append(bestDepths, depth)
		}
	}
	if len(bestDepths) != 1 {
		return 0, false
	}
	return bestDepths[0], true
}

func normalizedRel(raw string, strip int) (string, bool) {
	n := normalizePatchPath(raw)
	if n == "" || n == "/dev/null" {
		return "", false
	}
	parts := splitPathParts(n)
	if strip >= len(parts) {
		strip = 0
	}
	rel := strings.Join(parts[strip:], "/")
	if rel == "" || strings.Contains(rel, "..") {
		return "", false
	}
	return rel, true
}

// rewritePatchPaths rewrites diff --git / --- / +++ headers with the
// chosen strip depth already applied, re-prefixed with a single a/ or
// b/ component so the written bundle can be applied with -p1.
func rewritePatchPaths(text string, strip int) (string, []string) {
	var out strings.Builder
	var touched []string
	seen := map[string]struct{}{}

	lines := strings.SplitAfter(text, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSuffix(line, "\n")

		if strings.HasPrefix(trimmed, "diff --git ") {
			fields := strings.Fields(trimmed)
			if len(fields) >= 4 {
				aRel, aOK := normalizedRel(fields[2], strip)
				bRel, bOK := normalizedRel(fields[3], strip)
				if !aOK {
					aRel = "/dev/null"
				}
				if !bOK {
					bRel = "/dev/null"
				}
				out.WriteString("diff --git a/" + aRel + " b/" + bRel + "\n")
				continue
			}
		}

		if strings.HasPrefix(trimmed, "--- ") || strings.HasPrefix(trimmed, "+++ ") {
			prefix := trimmed[:4]
			letter := "a/"
			if prefix == "+++ " {
				letter = "b/"
			}
			rest := strings.SplitN(strings.TrimSpace(trimmed[4:]), "\t", 2)[0]
			rel, ok := normalizedRel(rest, strip)
			if !ok {
				out.WriteString(prefix + "/dev/null\n")
				continue
			}
			out.WriteString(prefix + letter + rel + "\n")
			if _, dup := seen[rel]; !dup {
				seen[rel] = struct{}{}
				touched = append(touched, rel)
			}
			continue
		}

		out.WriteString(line)
	}
	return out.String(), touched
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
