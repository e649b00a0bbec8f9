// Package liveguard implements the Live-Repo Guard: it snapshots the
// live repo's porcelain status before patching and again afterwards
// (and optionally after gates), failing the run if anything in the
// live tree moved — a defence against a patch or a gate with --fix
// leaking outside the workspace.
package liveguard

import (
	"sort"
	"strings"

	"github.com/boshu2/patchrunner/internal/gitops"
	"github.com/boshu2/patchrunner/internal/taxonomy"
	"github.com/boshu2/patchrunner/internal/types"
)

// Guard holds the live repo's status snapshot taken at construction time.
type Guard struct {
	git      *gitops.Git
	liveRepo string
	scope    types.LiveGuardScope
	before   []string
}

// Snapshot captures the live repo's current porcelain status as the
// guard's baseline.
func Snapshot(git *gitops.Git, liveRepo string, scope types.LiveGuardScope) (*Guard, error) {
	lines, err := git.Status(liveRepo)
	if err != nil {
		return nil, err
	}
	return &Guard{git: git, liveRepo: liveRepo, scope: scope, before: lines}, nil
}

// CheckAfterPatch recaptures and compares after patch application. It
// always checks, regardless of scope, since "patch" is the minimum scope.
func (g *Guard) CheckAfterPatch() error {
	return g.check()
}

// CheckAfterGates recaptures and compares after gates ran, but only does
// anything when scope is patch_and_gates.
func (g *Guard) CheckAfterGates() error {
	if g.scope != types.LiveGuardScopePatchAndGates {
		return nil
	}
	return g.check()
}

func (g *Guard) check() error {
	after, err := g.git.Status(g.liveRepo)
	if err != nil {
		return err
	}
	if equal(g.before, after) {
		return nil
	}
	return taxonomy.New(taxonomy.StageSecurity, taxonomy.CategorySecurity,
		"live repo changed during the run: "+strings.Join(diff(g.before, after), ", "))
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func diff(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	for _, l := range a {
		seen[l] = struct{}{}
	}
	var out []string
	for _, l := range b {
		if _, ok := seen[l]; !ok {
			out = append(out, l)
		}
	}
	for _, l := range a {
		found := false
		for _, l2 := range b {
			if l == l2 {
				found = true
				break
			}
		}
		if !found {
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}
