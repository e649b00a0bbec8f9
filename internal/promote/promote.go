// Package promote implements the Promoter: it copies the files a
// workspace run touched back into the live repo, guarding against a
// live tree that moved under the workspace's feet since the clone
// point.
package promote

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/boshu2/patchrunner/internal/gitops"
	"github.com/boshu2/patchrunner/internal/taxonomy"
	"github.com/boshu2/patchrunner/internal/types"
)

// Result records what the Promoter actually did, for logging and for
// the archiver's diff bundle.
type Result struct {
	Promoted    []string // paths copied or deleted in the live repo
	Dropped     []string // paths excluded under overwrite_workspace
	LiveChanged []string // paths the live-changed check flagged
}

// Promote copies files from workspaceDir to liveRepo per the
// live-changed-resolution policy, stages the result with "git add --",
// and reports what happened.
func Promote(git *gitops.Git, workspaceDir, liveRepo, baseSHA string, files []string, resolution types.LiveChangedResolution) (Result, error) {
	sort.Strings(files)

	changed, err := git.FilesChangedSince(liveRepo, baseSHA, files)
	if err != nil {
		return Result{}, err
	}

	var res Result
	res.LiveChanged = changed
	toPromote := files

	if len(changed) > 0 {
		switch resolution {
		case types.LiveChangedOverwriteLive:
			// workspace wins; promote everything as requested.
		case types.LiveChangedOverwriteWorkspace:
			changedSet := setOf(changed)
			var kept []string
			for _, f := range files {
				if _, ok := changedSet[f]; ok {
					res.Dropped = append(res.Dropped, f)
					continue
				}
				kept = append(kept, f)
			}
			toPromote = kept
		default:
			return res, taxonomy.New(taxonomy.StagePromotion, taxonomy.CategoryLiveChanged,
				"live repo changed since base_sha for: "+joinPaths(changed))
		}
	}

	for _, rel := range toPromote {
		srcPath := filepath.Join(workspaceDir, rel)
		dstPath := filepath.Join(liveRepo, rel)

		if _, err := os.Stat(srcPath); os.IsNotExist(err) {
			if err := os.RemoveAll(dstPath); err != nil && !os.IsNotExist(err) {
				return res, taxonomy.Wrap(taxonomy.StagePromotion, taxonomy.CategoryPromotion, err, "delete "+rel)
			}
			res.Promoted = append(res.Promoted, rel)
			continue
		}

		if err := copy2(srcPath, dstPath); err != nil {
			return res, taxonomy.Wrap(taxonomy.StagePromotion, taxonomy.CategoryPromotion, err, "copy "+rel)
		}
		res.Promoted = append(res.Promoted, rel)
	}

	if err := git.Add(liveRepo, toPromote); err != nil {
		return res, err
	}

	sort.Strings(res.Promoted)
	return res, nil
}

// copy2 copies src to dst, preserving mode and mtime (Python
// shutil.copy2-like semantics), creating dst's parent directories as
// needed.
func copy2(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, info.Mode()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

func setOf(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, i := range items {
		m[i] = struct{}{}
	}
	return m
}

func joinPaths(paths []string) string {
	out := ""
	for i, p := range paths {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
