package gates

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/boshu2/patchrunner/internal/gitops"
	"github.com/boshu2/patchrunner/internal/procrunner"
	"github.com/boshu2/patchrunner/internal/taxonomy"
	"github.com/boshu2/patchrunner/internal/types"
)

func TestRunSkipsConfiguredGates(t *testing.T) {
	fake := procrunner.NewFake()
	policy := &types.Policy{GatesOrder: []string{"mypy"}, GatesSkip: []string{"mypy"}}
	outcomes, err := Run(context.Background(), Input{Runner: fake, Policy: policy})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("expected no outcomes for a fully skipped order, got %v", outcomes)
	}
}

func TestRunStopsOnFirstFailureByDefault(t *testing.T) {
	fake := procrunner.NewFake()
	fake.On([]string{"mypy", "."}, procrunner.Result{ExitCode: 1, Stderr: "type error"})
	policy := &types.Policy{
		GatesOrder: []string{"mypy", "pytest"},
		GateParams: types.GateParams{MypyPaths: []string{"."}},
	}
	outcomes, err := Run(context.Background(), Input{Runner: fake, Policy: policy, WorkspaceDir: "/ws"})
	if err == nil {
		t.Fatal("expected failure to propagate")
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected pipeline to stop after mypy, got %d outcomes", len(outcomes))
	}
}

func TestRunAllTestsAccumulatesFailures(t *testing.T) {
	fake := procrunner.NewFake()
	fake.On([]string{"mypy", "."}, procrunner.Result{ExitCode: 1})
	fake.On([]string{"pytest", "tests"}, procrunner.Result{ExitCode: 0})
	policy := &types.Policy{
		GatesOrder:  []string{"mypy", "pytest"},
		RunAllTests: true,
		GateParams:  types.GateParams{MypyPaths: []string{"."}, PytestPaths: []string{"tests"}},
	}
	outcomes, err := Run(context.Background(), Input{Runner: fake, Policy: policy, WorkspaceDir: "/ws"})
	if err == nil {
		t.Fatal("expected overall failure recorded")
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected both gates to run, got %d", len(outcomes))
	}
	if !outcomes[1].OK {
		t.Fatal("expected pytest outcome to be OK")
	}
}

func TestGatesAllowFailProceedsWithoutOverallError(t *testing.T) {
	fake := procrunner.NewFake()
	fake.On([]string{"mypy", "."}, procrunner.Result{ExitCode: 1})
	policy := &types.Policy{
		GatesOrder:     []string{"mypy"},
		GatesAllowFail: true,
		GateParams:     types.GateParams{MypyPaths: []string{"."}},
	}
	outcomes, err := Run(context.Background(), Input{Runner: fake, Policy: policy, WorkspaceDir: "/ws"})
	if err != nil {
		t.Fatalf("expected no overall error under allow_fail: %v", err)
	}
	if outcomes[0].OK {
		t.Fatal("expected the individual outcome to still record failure")
	}
}

func TestProgressCallbackInvokedPerGate(t *testing.T) {
	fake := procrunner.NewFake()
	fake.On([]string{"mypy", "."}, procrunner.Result{ExitCode: 0})
	var seen []string
	policy := &types.Policy{GatesOrder: []string{"mypy"}, GateParams: types.GateParams{MypyPaths: []string{"."}}}
	_, err := Run(context.Background(), Input{
		Runner: fake, Policy: policy, WorkspaceDir: "/ws",
		Progress: func(kind Kind, ok bool, detail string) { seen = append(seen, string(kind)) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 1 || seen[0] != "mypy" {
		t.Fatalf("seen = %v", seen)
	}
}

func TestGateJSSkipsWhenNoTouchedFileExists(t *testing.T) {
	fake := procrunner.NewFake()
	policy := &types.Policy{GateParams: types.GateParams{JSExtensions: []string{".js"}}}
	out := gateJS(context.Background(), Input{Runner: fake, Policy: policy, WorkspaceDir: t.TempDir(), ChangedFiles: []string{"missing.js"}})
	if !out.OK {
		t.Fatalf("expected pass when touched JS file does not exist: %+v", out)
	}
	if len(fake.Calls) != 0 {
		t.Fatalf("expected no syntax-checker invocation, got %v", fake.Calls)
	}
}

func TestGateJSChecksExistingTouchedFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	fake := procrunner.NewFake()
	fake.On([]string{"node", "--check", "a.js"}, procrunner.Result{ExitCode: 0})
	policy := &types.Policy{GateParams: types.GateParams{JSExtensions: []string{".js"}, JSSyntaxChecker: "node"}}
	out := gateJS(context.Background(), Input{Runner: fake, Policy: policy, WorkspaceDir: dir, ChangedFiles: []string{"a.js"}})
	if !out.OK {
		t.Fatalf("expected pass: %+v", out)
	}
}

func TestGatePytestVenvMissingFailsWithVenvCategory(t *testing.T) {
	fake := procrunner.NewFake()
	policy := &types.Policy{PytestUseVenv: true, GateParams: types.GateParams{PytestVenvDir: ".venv"}}
	out := gatePytest(context.Background(), Input{Runner: fake, Policy: policy, WorkspaceDir: t.TempDir()})
	if out.OK {
		t.Fatal("expected failure when venv is missing")
	}
	if taxonomy.FingerprintOf(out.Err).Category != taxonomy.CategoryPytestVenv {
		t.Fatalf("category = %v", taxonomy.FingerprintOf(out.Err).Category)
	}
}

func TestGateDocsPassesWhenNoWatchedAreaTouched(t *testing.T) {
	policy := &types.Policy{GateParams: types.GateParams{DocsWatchedInclude: []string{"src/"}, DocsRequiredFiles: []string{"CHANGELOG.md"}}}
	out := gateDocs(Input{Policy: policy, ChangedFiles: []string{"tests/test_a.py"}})
	if !out.OK {
		t.Fatalf("expected pass: %+v", out)
	}
}

func TestGateDocsFailsWhenRequiredFileMissingFromDelta(t *testing.T) {
	policy := &types.Policy{GateParams: types.GateParams{DocsWatchedInclude: []string{"src/"}, DocsRequiredFiles: []string{"CHANGELOG.md"}}}
	out := gateDocs(Input{Policy: policy, ChangedFiles: []string{"src/a.py"}, DeclaredUnion: []string{"src/a.py"}})
	if out.OK {
		t.Fatal("expected docs gate to fail")
	}
}

func TestGateDocsPassesWhenRequiredFilePresent(t *testing.T) {
	policy := &types.Policy{GateParams: types.GateParams{DocsWatchedInclude: []string{"src/"}, DocsRequiredFiles: []string{"CHANGELOG.md"}}}
	out := gateDocs(Input{Policy: policy, ChangedFiles: []string{"src/a.py"}, DeclaredUnion: []string{"src/a.py", "CHANGELOG.md"}})
	if !out.OK {
		t.Fatalf("expected pass: %+v", out)
	}
}

func TestGateMonolithFlagsNewCatchallFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "utils.py"), []byte("def f():\n    pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	policy := &types.Policy{GateParams: types.GateParams{Monolith: types.MonolithParams{
		Mode:             "strict",
		CatchallPatterns: []string{"utils.py"},
	}}}
	out := gateMonolith(Input{Policy: policy, WorkspaceDir: dir, ChangedFiles: []string{"utils.py"}, NewFiles: []string{"utils.py"}})
	if out.OK {
		t.Fatal("expected strict mode to fail on catch-all new file")
	}
}

func TestGateMonolithWarnOnlyPassesWithWarning(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "utils.py"), []byte("def f():\n    pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	policy := &types.Policy{GateParams: types.GateParams{Monolith: types.MonolithParams{
		Mode:             "warn_only",
		CatchallPatterns: []string{"utils.py"},
	}}}
	out := gateMonolith(Input{Policy: policy, WorkspaceDir: dir, ChangedFiles: []string{"utils.py"}, NewFiles: []string{"utils.py"}})
	if !out.OK {
		t.Fatalf("expected warn_only to pass with a warning detail: %+v", out)
	}
}

func TestGateMonolithCoreBoundaryViolation(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "core"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "core/engine.py"), []byte("import plugins.extra\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	policy := &types.Policy{GateParams: types.GateParams{Monolith: types.MonolithParams{
		Mode:      "strict",
		Areas:     map[string]string{"core/": "core", "plugins/": "plugins"},
		CoreAreas: []string{"core"},
	}}}
	out := gateMonolith(Input{Policy: policy, WorkspaceDir: dir, ChangedFiles: []string{"core/engine.py"}})
	if out.OK {
		t.Fatal("expected core-boundary violation to fail in strict mode")
	}
}

func TestGateMonolithGrowthWithinAllowancePassesDespiteHugeThreshold(t *testing.T) {
	dir := t.TempDir()
	lines := make([]string, 0, 120)
	for i := 0; i < 120; i++ {
		lines = append(lines, "x = 1")
	}
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, "big.py"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	fake := procrunner.NewFake()
	fake.On([]string{"git", "show", "base:big.py"}, procrunner.Result{ExitCode: 0, Stdout: content})
	git := gitops.New(fake, 0)

	policy := &types.Policy{GateParams: types.GateParams{Monolith: types.MonolithParams{
		Mode:               "strict",
		HugeLOCThreshold:   100,
		GrowthLOCAllowance: 50,
	}}}
	out := gateMonolith(Input{Policy: policy, Git: git, BaseSHA: "base", WorkspaceDir: dir, ChangedFiles: []string{"big.py"}})
	if !out.OK {
		t.Fatalf("expected unchanged huge file within growth allowance to pass, got %+v", out)
	}
}

func TestGateMonolithGrowthOverAllowanceFails(t *testing.T) {
	dir := t.TempDir()
	lines := make([]string, 0, 160)
	for i := 0; i < 160; i++ {
		lines = append(lines, "x = 1")
	}
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, "big.py"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	baseContent := "x = 1\n"
	fake := procrunner.NewFake()
	fake.On([]string{"git", "show", "base:big.py"}, procrunner.Result{ExitCode: 0, Stdout: baseContent})
	git := gitops.New(fake, 0)

	policy := &types.Policy{GateParams: types.GateParams{Monolith: types.MonolithParams{
		Mode:               "strict",
		HugeLOCThreshold:   100,
		GrowthLOCAllowance: 50,
	}}}
	out := gateMonolith(Input{Policy: policy, Git: git, BaseSHA: "base", WorkspaceDir: dir, ChangedFiles: []string{"big.py"}})
	if out.OK {
		t.Fatal("expected a huge file that grew past its allowance to fail in strict mode")
	}
}

func TestGateMonolithHubFanInDeltaViolation(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "svc"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Two files newly import svc/shared.py; svc/shared.py itself is unchanged.
	for _, name := range []string{"svc/a.py", "svc/b.py"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("import svc.shared\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "svc/shared.py"), []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fake := procrunner.NewFake()
	fake.On([]string{"git", "show", "base:svc/a.py"}, procrunner.Result{ExitCode: 0, Stdout: "x = 1\n"})
	fake.On([]string{"git", "show", "base:svc/b.py"}, procrunner.Result{ExitCode: 0, Stdout: "x = 1\n"})
	fake.On([]string{"git", "show", "base:svc/shared.py"}, procrunner.Result{ExitCode: 0, Stdout: "x = 1\n"})
	git := gitops.New(fake, 0)

	policy := &types.Policy{GateParams: types.GateParams{Monolith: types.MonolithParams{
		Mode:          "strict",
		Areas:         map[string]string{"svc/": "svc"},
		HubFanInLimit: 1,
	}}}
	out := gateMonolith(Input{
		Policy:       policy,
		Git:          git,
		BaseSHA:      "base",
		WorkspaceDir: dir,
		ChangedFiles: []string{"svc/a.py", "svc/b.py", "svc/shared.py"},
	})
	if out.OK {
		t.Fatal("expected svc/shared.py's fan-in growth (0 -> 2) to exceed the hub fan-in limit")
	}
}
