// Package gates implements the Gate Pipeline: an ordered, pluggable
// sequence of checks run against a workspace (or the live repo, for
// finalize modes) after a patch has been applied.
package gates

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/boshu2/patchrunner/internal/gitops"
	"github.com/boshu2/patchrunner/internal/procrunner"
	"github.com/boshu2/patchrunner/internal/taxonomy"
	"github.com/boshu2/patchrunner/internal/types"
)

// Kind identifies a gate.
type Kind string

const (
	KindCompile  Kind = "compile"
	KindRuff     Kind = "ruff"
	KindJS       Kind = "js"
	KindPytest   Kind = "pytest"
	KindMypy     Kind = "mypy"
	KindDocs     Kind = "docs"
	KindMonolith Kind = "monolith"
	KindBadGuys  Kind = "badguys"
)

// Progress is invoked once per gate with its outcome, mirroring the
// OK:<gate>/FAIL:<gate> event-sink records.
type Progress func(kind Kind, ok bool, detail string)

// Outcome records one gate's result.
type Outcome struct {
	Kind   Kind
	OK     bool
	Detail string
	Err    error
}

// Input bundles everything a gate run needs.
type Input struct {
	Runner       procrunner.Runner
	Git          *gitops.Git
	Policy       *types.Policy
	WorkspaceDir string // cwd for workspace-mode gates
	LiveRepoDir  string // cwd for finalize/live gates; "" in workspace mode
	BaseSHA       string // pre-patch HEAD, used by the monolith gate's growth/hub-fan-in deltas
	ChangedFiles  []string
	NewFiles      []string // subset of ChangedFiles with git status A, for monolith new-file thresholds
	DeclaredUnion []string // declared ∪ touched, the docs-delta comparator
	Progress     Progress
}

func (in Input) cwd() string {
	if in.LiveRepoDir != "" {
		return in.LiveRepoDir
	}
	return in.WorkspaceDir
}

// Run executes every selected gate in gates_order, honoring gates_skip,
// allow_fail and run_all_tests, and returns every outcome plus the
// overall error (nil if every executed gate passed or was allow_fail).
func Run(ctx context.Context, in Input) ([]Outcome, error) {
	skip := setOf(in.Policy.GatesSkip)
	var outcomes []Outcome
	var firstErr error

	for _, name := range in.Policy.GatesOrder {
		kind := Kind(name)
		if _, ok := skip[name]; ok {
			continue
		}

		outcome := runOne(ctx, in, kind)
		outcomes = append(outcomes, outcome)
		if in.Progress != nil {
			in.Progress(kind, outcome.OK, outcome.Detail)
		}

		if !outcome.OK {
			if firstErr == nil {
				firstErr = outcome.Err
			}
			if !in.Policy.GatesAllowFail && !in.Policy.RunAllTests {
				return outcomes, firstErr
			}
		}
	}
	if firstErr != nil && !in.Policy.GatesAllowFail {
		return outcomes, firstErr
	}
	return outcomes, nil
}

func runOne(ctx context.Context, in Input, kind Kind) Outcome {
	switch kind {
	case KindCompile:
		return gateCompile(ctx, in)
	case KindRuff:
		return gateRuff(ctx, in)
	case KindJS:
		return gateJS(ctx, in)
	case KindPytest:
		return gatePytest(ctx, in)
	case KindMypy:
		return gateMypy(ctx, in)
	case KindDocs:
		return gateDocs(in)
	case KindMonolith:
		return gateMonolith(in)
	case KindBadGuys:
		return gateBadGuys(ctx, in)
	default:
		err := taxonomy.New(taxonomy.StageGates, taxonomy.CategoryGates, "unknown gate kind: "+string(kind))
		return Outcome{Kind: kind, OK: false, Err: err, Detail: err.Error()}
	}
}

func run(ctx context.Context, in Input, kind Kind, category taxonomy.Category, name string, args ...string) Outcome {
	res, err := in.Runner.Run(ctx, in.cwd(), nil, name, args...)
	if err != nil {
		e := taxonomy.Wrap(taxonomy.StageGates, category, err, string(kind)+" failed to start")
		return Outcome{Kind: kind, OK: false, Err: e, Detail: e.Error()}
	}
	if res.ExitCode != 0 {
		e := taxonomy.New(taxonomy.StageGates, category, string(kind)+" exited "+strconv.Itoa(res.ExitCode)+": "+strings.TrimSpace(res.Stderr))
		return Outcome{Kind: kind, OK: false, Err: e, Detail: strings.TrimSpace(res.Stdout + "\n" + res.Stderr)}
	}
	return Outcome{Kind: kind, OK: true, Detail: strings.TrimSpace(res.Stdout)}
}

func gateCompile(ctx context.Context, in Input) Outcome {
	targets := in.Policy.GateParams.CompileTargets
	if len(targets) == 0 {
		targets = []string{"."}
	}
	args := append([]string{"-m", "py_compile"}, pythonFiles(in.cwd(), targets, in.Policy.GateParams.CompileExcludeGlobs)...)
	if len(args) == 2 {
		return Outcome{Kind: KindCompile, OK: true, Detail: "no python files to compile"}
	}
	return run(ctx, in, KindCompile, taxonomy.CategoryGates, "python3", args...)
}

func gateRuff(ctx context.Context, in Input) Outcome {
	targets := in.Policy.GateParams.RuffTargets
	if len(targets) == 0 {
		targets = []string{"."}
	}

	if in.Policy.RuffFormat {
		if o := run(ctx, in, KindRuff, taxonomy.CategoryGates, "ruff", append([]string{"format"}, targets...)...); !o.OK {
			return o
		}
	}

	check := run(ctx, in, KindRuff, taxonomy.CategoryGates, "ruff", append([]string{"check"}, targets...)...)
	if check.OK || !in.Policy.RuffAutofix {
		return check
	}

	if o := run(ctx, in, KindRuff, taxonomy.CategoryGates, "ruff", append([]string{"check", "--fix"}, targets...)...); !o.OK {
		return o
	}
	final := run(ctx, in, KindRuff, taxonomy.CategoryGates, "ruff", append([]string{"check"}, targets...)...)
	if final.OK && in.Policy.RuffAutofixLegalizeOutside {
		final.Detail = "autofix legalized outside targets: " + strings.Join(targets, ",")
	}
	return final
}

func gateJS(ctx context.Context, in Input) Outcome {
	var existing []string
	for _, path := range in.ChangedFiles {
		if hasAnyExt(path, in.Policy.GateParams.JSExtensions) {
			if _, err := os.Stat(filepath.Join(in.cwd(), path)); err == nil {
				existing = append(existing, path)
			}
		}
	}
	if len(existing) == 0 {
		return Outcome{Kind: KindJS, OK: true, Detail: "no touched JS/TS files"}
	}
	sort.Strings(existing)
	checker := in.Policy.GateParams.JSSyntaxChecker
	if checker == "" {
		checker = "node"
	}
	args := append([]string{"--check"}, existing...)
	return run(ctx, in, KindJS, taxonomy.CategoryGates, checker, args...)
}

func gatePytest(ctx context.Context, in Input) Outcome {
	paths := in.Policy.GateParams.PytestPaths
	if len(paths) == 0 {
		paths = []string{"tests"}
	}

	if !in.Policy.PytestUseVenv {
		return run(ctx, in, KindPytest, taxonomy.CategoryGates, "pytest", paths...)
	}

	venv := in.Policy.GateParams.PytestVenvDir
	if venv == "" {
		venv = ".venv"
	}
	binDir := filepath.Join(in.cwd(), venv, "bin")
	if _, err := os.Stat(binDir); err != nil {
		e := taxonomy.Wrap(taxonomy.StageGates, taxonomy.CategoryPytestVenv, err, "pytest venv not found at "+venv)
		return Outcome{Kind: KindPytest, OK: false, Err: e, Detail: e.Error()}
	}

	env := append(os.Environ(), "PATH="+binDir+string(os.PathListSeparator)+os.Getenv("PATH"), "VIRTUAL_ENV="+filepath.Join(in.cwd(), venv))
	res, err := in.Runner.Run(ctx, in.cwd(), env, "pytest", paths...)
	if err != nil {
		e := taxonomy.Wrap(taxonomy.StageGates, taxonomy.CategoryGates, err, "pytest failed to start")
		return Outcome{Kind: KindPytest, OK: false, Err: e, Detail: e.Error()}
	}
	if res.ExitCode != 0 {
		e := taxonomy.New(taxonomy.StageGates, taxonomy.CategoryGates, "pytest exited "+strconv.Itoa(res.ExitCode))
		return Outcome{Kind: KindPytest, OK: false, Err: e, Detail: strings.TrimSpace(res.Stdout + "\n" + res.Stderr)}
	}
	return Outcome{Kind: KindPytest, OK: true, Detail: strings.TrimSpace(res.Stdout)}
}

func gateMypy(ctx context.Context, in Input) Outcome {
	paths := in.Policy.GateParams.MypyPaths
	if len(paths) == 0 {
		paths = []string{"."}
	}
	return run(ctx, in, KindMypy, taxonomy.CategoryGates, "mypy", paths...)
}

func gateDocs(in Input) Outcome {
	watched := intersectsWatched(in.ChangedFiles, in.Policy.GateParams.DocsWatchedInclude, in.Policy.GateParams.DocsWatchedExclude)
	if !watched {
		return Outcome{Kind: KindDocs, OK: true, Detail: "no watched source areas touched"}
	}
	required := in.Policy.GateParams.DocsRequiredFiles
	if len(required) == 0 {
		return Outcome{Kind: KindDocs, OK: true, Detail: "no docs requirement configured"}
	}
	delta := setOf(in.DeclaredUnion)
	var missing []string
	for _, doc := range required {
		if _, ok := delta[doc]; !ok {
			missing = append(missing, doc)
		}
	}
	if len(missing) > 0 {
		e := taxonomy.New(taxonomy.StageGates, taxonomy.CategoryGates,
			"docs gate: watched source areas changed without updating "+strings.Join(missing, ", "))
		return Outcome{Kind: KindDocs, OK: false, Err: e, Detail: e.Error()}
	}
	return Outcome{Kind: KindDocs, OK: true, Detail: "docs present for watched change"}
}

func gateBadGuys(ctx context.Context, in Input) Outcome {
	return run(ctx, in, KindBadGuys, taxonomy.CategoryGates, "badguys", "--check")
}

func intersectsWatched(changed, include, exclude []string) bool {
	if len(include) == 0 {
		return false
	}
	for _, path := range changed {
		if matchesAnyPrefix(path, exclude) {
			continue
		}
		if matchesAnyPrefix(path, include) {
			return true
		}
	}
	return false
}

func matchesAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p == "." || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") || path == p {
			return true
		}
	}
	return false
}

func hasAnyExt(path string, exts []string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func pythonFiles(root string, targets, excludeGlobs []string) []string {
	var out []string
	for _, target := range targets {
		_ = filepath.Walk(filepath.Join(root, target), func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() || !strings.HasSuffix(path, ".py") {
				return nil
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return nil
			}
			if matchesAnyGlob(rel, excludeGlobs) {
				return nil
			}
			out = append(out, rel)
			return nil
		})
	}
	sort.Strings(out)
	return out
}

func matchesAnyGlob(path string, globs []string) bool {
	for _, g := range globs {
		if ok, err := filepath.Match(g, path); err == nil && ok {
			return true
		}
	}
	return false
}

func setOf(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, i := range items {
		m[i] = struct{}{}
	}
	return m
}

