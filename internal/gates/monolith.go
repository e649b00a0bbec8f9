package gates

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/boshu2/patchrunner/internal/taxonomy"
	"github.com/boshu2/patchrunner/internal/types"
)

// fileStats is the (loc, exports, imports, areas-imported) tuple the
// monolith gate computes per changed file via a line-oriented, regex-based
// scan of Python and JS/TS definition, export and import forms (no AST):
// good enough to flag structural drift, not a full static analyzer.
type fileStats struct {
	loc     int
	exports int
	imports int
	areas   map[string]struct{}
}

var (
	reExportPy = regexp.MustCompile(`^\s*(def|class)\s+\w+`)
	reImportPy = regexp.MustCompile(`^\s*(import|from)\s+([\w.]+)`)
	reExportJS = regexp.MustCompile(`^\s*export\s+(default\s+)?(function|class|const|let|var)\b`)
	reImportJS = regexp.MustCompile(`^\s*import\s.*\sfrom\s+['"]([^'"]+)['"]`)
)

func gateMonolith(in Input) Outcome {
	cfg := in.Policy.GateParams.Monolith
	mode := cfg.Mode
	if mode == "" {
		mode = "warn_only"
	}

	var warnings []string
	var violations []string
	newFiles := setOf(in.NewFiles)

	post := map[string]fileStats{}
	for _, path := range in.ChangedFiles {
		if strings.HasSuffix(path, "/") {
			continue
		}
		stats, err := analyze(in.cwd(), path, cfg)
		if err != nil {
			if cfg.OnParseError == "fail" {
				violations = append(violations, path+": failed to parse ("+err.Error()+")")
			} else {
				warnings = append(warnings, path+": failed to parse, skipping structural checks")
			}
			continue
		}
		post[path] = stats
	}

	// baseline holds each changed, pre-existing file's stats as of
	// BaseSHA, used to turn the huge/large and hub thresholds below
	// into growth checks rather than absolute-size checks: a file
	// that was already huge before this patch touched it should not
	// newly violate just for being read again.
	baseline := map[string]fileStats{}
	if in.Git != nil && in.BaseSHA != "" {
		for path := range post {
			if _, isNew := newFiles[path]; isNew {
				continue
			}
			if content, ok, err := in.Git.ShowFile(in.cwd(), in.BaseSHA, path); err == nil && ok {
				baseline[path] = statsFromContent(content, path, cfg)
			}
		}
	}

	fanIn := func(stats map[string]fileStats, path string) int {
		area := areaOf(path, cfg.Areas)
		n := 0
		for other, s := range stats {
			if other == path {
				continue
			}
			if _, ok := s.areas[area]; ok {
				n++
			}
		}
		return n
	}

	for _, path := range in.ChangedFiles {
		stats, ok := post[path]
		if !ok {
			continue
		}
		area := areaOf(path, cfg.Areas)
		_, isNew := newFiles[path]
		base := baseline[path] // zero value when new or unavailable

		if isNew && isCatchall(path, cfg.CatchallPatterns, cfg.AllowlistPaths) {
			violations = append(violations, path+": new file matches a catch-all pattern")
		}
		if isNew {
			if cfg.NewFileLOCCap > 0 && stats.loc > cfg.NewFileLOCCap {
				violations = append(violations, path+": new file exceeds loc cap")
			}
			if cfg.NewFileExportsCap > 0 && stats.exports > cfg.NewFileExportsCap {
				violations = append(violations, path+": new file exceeds exports cap")
			}
			if cfg.NewFileImportsCap > 0 && stats.imports > cfg.NewFileImportsCap {
				violations = append(violations, path+": new file exceeds imports cap")
			}
		} else {
			locDelta := stats.loc - base.loc
			switch {
			case cfg.HugeLOCThreshold > 0 && stats.loc > cfg.HugeLOCThreshold:
				if cfg.GrowthLOCAllowance <= 0 || locDelta > cfg.GrowthLOCAllowance {
					violations = append(violations, path+": exceeds huge-file loc threshold and grew by "+strconv.Itoa(locDelta)+" lines")
				} else {
					warnings = append(warnings, path+": exceeds huge-file loc threshold, but grew only "+strconv.Itoa(locDelta)+" lines since base")
				}
			case cfg.LargeLOCThreshold > 0 && stats.loc > cfg.LargeLOCThreshold:
				warnings = append(warnings, path+": exceeds large-file loc threshold")
			}
		}

		fanOutDelta := stats.imports - base.imports
		if cfg.HubFanOutLimit > 0 && fanOutDelta > cfg.HubFanOutLimit {
			violations = append(violations, path+": fan-out grew by "+strconv.Itoa(fanOutDelta)+", over the hub fan-out limit")
		}
		if cfg.HubFanInLimit > 0 {
			fanInDelta := fanIn(post, path) - fanIn(baseline, path)
			if fanInDelta > cfg.HubFanInLimit {
				violations = append(violations, path+": fan-in grew by "+strconv.Itoa(fanInDelta)+", over the hub fan-in limit")
			}
		}
		if cfg.CrossAreaLimit > 0 && len(stats.areas) > cfg.CrossAreaLimit {
			violations = append(violations, path+": imports span "+strconv.Itoa(len(stats.areas))+" areas, over the cross-area limit")
		}
		if isCoreArea(area, cfg.CoreAreas) {
			for imported := range stats.areas {
				if imported != area && !isCoreArea(imported, cfg.CoreAreas) {
					violations = append(violations, path+": core area "+area+" imports non-core area "+imported)
				}
			}
		}
	}

	sort.Strings(violations)
	sort.Strings(warnings)

	if len(violations) > 0 && mode == "strict" {
		e := taxonomy.New(taxonomy.StageGates, taxonomy.CategoryGates,
			"MONOLITH: "+strings.Join(violations, "; "))
		return Outcome{Kind: KindMonolith, OK: false, Err: e, Detail: e.Error()}
	}

	all := append(append([]string{}, violations...), warnings...)
	if len(all) == 0 {
		return Outcome{Kind: KindMonolith, OK: true, Detail: "no structural violations"}
	}
	return Outcome{Kind: KindMonolith, OK: true, Detail: "MONOLITH: WARN " + strings.Join(all, "; ")}
}

func areaOf(path string, areas map[string]string) string {
	best := ""
	bestLen := -1
	for prefix, area := range areas {
		if strings.HasPrefix(path, prefix) && len(prefix) > bestLen {
			best = area
			bestLen = len(prefix)
		}
	}
	return best
}

func isCoreArea(area string, coreAreas []string) bool {
	for _, c := range coreAreas {
		if c == area {
			return true
		}
	}
	return false
}

func isCatchall(path string, patterns, allowlist []string) bool {
	for _, a := range allowlist {
		if a == path {
			return false
		}
	}
	base := filepath.Base(path)
	dir := filepath.Base(filepath.Dir(path))
	for _, p := range patterns {
		if base == p || dir == p {
			return true
		}
	}
	return false
}

func analyze(root, path string, cfg types.MonolithParams) (fileStats, error) {
	full := filepath.Join(root, path)
	f, err := os.Open(full)
	if err != nil {
		return fileStats{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	stats := scanStats(scanner, path, cfg)
	if err := scanner.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

// statsFromContent computes fileStats from in-memory content (a base
// revision's blob via git show), used by the growth/hub-fan-in deltas.
func statsFromContent(content, path string, cfg types.MonolithParams) fileStats {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanStats(scanner, path, cfg)
}

func scanStats(scanner *bufio.Scanner, path string, cfg types.MonolithParams) fileStats {
	var stats fileStats
	stats.areas = map[string]struct{}{}

	isJS := strings.HasSuffix(path, ".js") || strings.HasSuffix(path, ".ts") ||
		strings.HasSuffix(path, ".jsx") || strings.HasSuffix(path, ".tsx")

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		stats.loc++

		if isJS {
			if reExportJS.MatchString(line) {
				stats.exports++
			}
			if m := reImportJS.FindStringSubmatch(line); m != nil {
				stats.imports++
				stats.areas[areaOf(m[1], cfg.Areas)] = struct{}{}
			}
			continue
		}
		if reExportPy.MatchString(line) {
			stats.exports++
		}
		if m := reImportPy.FindStringSubmatch(line); m != nil {
			stats.imports++
			stats.areas[areaOf(strings.ReplaceAll(m[2], ".", "/"), cfg.Areas)] = struct{}{}
		}
	}
	return stats
}
