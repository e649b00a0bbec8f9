// Package patchexec implements the Patch Executor: it runs a resolved
// patch input against a workspace, either as a script (optionally
// sandboxed) or as a unified-diff bundle.
package patchexec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/boshu2/patchrunner/internal/procrunner"
	"github.com/boshu2/patchrunner/internal/taxonomy"
	"github.com/boshu2/patchrunner/internal/types"
)

// ScriptResult records what running a patch script did.
type ScriptResult struct {
	SHA256        string
	ExecPath      string
	DeclaredFiles []string
}

var (
	reFiles    = regexp.MustCompile(`(?s)\bFILES\s*=\s*\[(.*?)\]`)
	reListItem = regexp.MustCompile(`['"]([^'"]*)['"]`)
)

// RunScript precheck-syntax-checks a patch script, copies it into the
// workspace at .am_patch/patch_exec.py, and executes it with the
// workspace as cwd (optionally inside a filesystem jail).
func RunScript(ctx context.Context, runner procrunner.Runner, scriptPath, workspaceRepo string, policy *types.Policy) (ScriptResult, error) {
	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return ScriptResult{}, taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryPatchPath, err, "read patch script")
	}

	if policy.ASCIIOnlyPatch && !isASCII(data) {
		return ScriptResult{}, taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryPatchASCII,
			"patch script contains non-ascii characters: "+scriptPath)
	}

	declared, err := parseDeclaredFiles(data)
	if err != nil {
		return ScriptResult{}, taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryPatchFiles,
			"patch script must define FILES=[...] at top level")
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	execPath := filepath.Join(workspaceRepo, ".am_patch", "patch_exec.py")
	if err := writeAtomic(execPath, data); err != nil {
		return ScriptResult{}, err
	}

	res, err := runner.Run(ctx, workspaceRepo, nil, "python3", "-m", "py_compile", execPath)
	if err != nil {
		return ScriptResult{}, taxonomy.Wrap(taxonomy.StagePreflight, taxonomy.CategoryPatchSyntax, err, "syntax-check patch script")
	}
	if res.ExitCode != 0 {
		return ScriptResult{}, taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryPatchSyntax,
			"patch syntax error: "+strings.TrimSpace(res.Stderr))
	}

	if err := execScript(ctx, runner, workspaceRepo, execPath, policy); err != nil {
		return ScriptResult{}, err
	}

	return ScriptResult{SHA256: digest, ExecPath: execPath, DeclaredFiles: declared}, nil
}

func execScript(ctx context.Context, runner procrunner.Runner, workspaceRepo, execPath string, policy *types.Policy) error {
	rel, err := filepath.Rel(workspaceRepo, execPath)
	if err != nil {
		return taxonomy.Wrap(taxonomy.StagePatch, taxonomy.CategoryInternal, err, "resolve patch exec path")
	}

	if !policy.PatchJail {
		res, err := runner.Run(ctx, workspaceRepo, nil, "python3", execPath)
		if err != nil {
			return taxonomy.Wrap(taxonomy.StagePatch, taxonomy.CategoryInternal, err, "run patch script")
		}
		if res.ExitCode != 0 {
			return taxonomy.New(taxonomy.StagePatch, taxonomy.CategoryInternal, "patch script failed (rc="+strconv.Itoa(res.ExitCode)+")")
		}
		return nil
	}

	bwrap, ok := findBwrap()
	if !ok {
		return taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryBwrap,
			"bwrap not found (install bubblewrap or disable patch_jail)")
	}
	args := buildBwrapArgs(workspaceRepo, []string{"python3", "/repo/" + rel}, policy.PatchJailUnshareNet)
	res, err := runner.Run(ctx, workspaceRepo, nil, bwrap, args...)
	if err != nil {
		return taxonomy.Wrap(taxonomy.StagePatch, taxonomy.CategoryInternal, err, "run jailed patch script")
	}
	if res.ExitCode != 0 {
		return taxonomy.New(taxonomy.StagePatch, taxonomy.CategoryInternal, "patch script failed (rc="+strconv.Itoa(res.ExitCode)+")")
	}
	return nil
}

// findBwrap resolves the bubblewrap binary, honoring an explicit
// AM_PATCH_BWRAP override before falling back to $PATH.
func findBwrap() (string, bool) {
	if env := os.Getenv("AM_PATCH_BWRAP"); env != "" {
		return env, true
	}
	path, err := exec.LookPath("bwrap")
	return path, err == nil
}

// buildBwrapArgs binds the host's /usr, /bin, /sbin, /lib, /lib64 and
// /etc (those that exist) read-only, gives the jail its own /proc, /dev
// and tmpfs /tmp, and binds the workspace repo writable at /repo; no
// other host path is mounted.
func buildBwrapArgs(workspaceRepo string, pythonArgv []string, unshareNet bool) []string {
	args := []string{"--die-with-parent", "--new-session"}
	if unshareNet {
		args = append(args, "--unshare-net")
	}
	args = append(args, "--proc", "/proc", "--dev", "/dev", "--tmpfs", "/tmp")
	for _, p := range []string{"/usr", "/bin", "/sbin", "/lib", "/lib64", "/etc"} {
		if _, err := os.Stat(p); err == nil {
			args = append(args, "--ro-bind", p, p)
		}
	}
	args = append(args, "--bind", workspaceRepo, "/repo", "--chdir", "/repo", "--")
	args = append(args, pythonArgv...)
	return args
}

func isASCII(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return false
		}
	}
	return true
}

// parseDeclaredFiles extracts the repo-relative paths from a top-level
// FILES = [...] assignment. Like the monolith gate, this is a
// line-oriented scan, not a real parse of the script.
func parseDeclaredFiles(data []byte) ([]string, error) {
	m := reFiles.FindSubmatch(data)
	if m == nil {
		return nil, taxonomy.New(taxonomy.StagePreflight, taxonomy.CategoryPatchFiles, "no FILES assignment found")
	}
	items := reListItem.FindAllSubmatch(m[1], -1)
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, string(it[1]))
	}
	return out, nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return taxonomy.Wrap(taxonomy.StagePatch, taxonomy.CategoryInternal, err, "create .am_patch directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return taxonomy.Wrap(taxonomy.StagePatch, taxonomy.CategoryInternal, err, "writing "+filepath.Base(path))
	}
	if err := os.Rename(tmp, path); err != nil {
		return taxonomy.Wrap(taxonomy.StagePatch, taxonomy.CategoryInternal, err, "renaming "+filepath.Base(path))
	}
	return nil
}
