// Package archive implements the Archiver: success and failure zips,
// and the per-promotion diff bundle, all written atomically (temp
// file, fsync, rename).
package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/boshu2/patchrunner/internal/gitops"
	"github.com/boshu2/patchrunner/internal/taxonomy"
)

var excludedDirNames = map[string]struct{}{
	".git":          {},
	"venv":          {},
	".venv":         {},
	".mypy_cache":   {},
	".ruff_cache":   {},
	".pytest_cache": {},
	"__pycache__":   {},
	"oldlogs":       {},
}

// AllocateVersioned returns dir/name, or dir/name_vN.ext with the
// smallest N >= 2 such that the path does not already exist.
func AllocateVersioned(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); err != nil {
		return candidate
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		candidate = filepath.Join(dir, stem+"_v"+strconv.Itoa(n)+ext)
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}

// SuccessZip writes "git archive HEAD" to destPath atomically.
func SuccessZip(git *gitops.Git, repoDir, destPath string) error {
	tmp := destPath + ".tmp"
	if err := git.GitArchive(repoDir, tmp, "HEAD"); err != nil {
		return err
	}
	if err := fsyncPath(tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, destPath); err != nil {
		return taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "renaming success archive")
	}
	return nil
}

// OffendingPatch is one failed patch entry to embed in the failure zip
// (either a file on disk via Path, or raw bytes via Data).
type OffendingPatch struct {
	Name string
	Path string
	Data []byte
}

// FailureZip writes the workspace subset, the current log, and the
// offending patches into destPath. When there is nothing real to
// archive, it still writes a deterministic README.txt so the zip is
// never empty.
func FailureZip(destPath, workspaceDir, logPath string, offending []OffendingPatch) error {
	tmp := destPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "create failure archive")
	}

	w := zip.NewWriter(f)
	wrote := false

	if logPath != "" {
		if ok, err := addFile(w, logPath, "logs/"+filepath.Base(logPath)); err != nil {
			f.Close()
			return err
		} else if ok {
			wrote = true
		}
	}

	for _, p := range offending {
		name := p.Name
		if name == "" {
			name = filepath.Base(p.Path)
		}
		if len(p.Data) > 0 {
			if err := addBytes(w, p.Data, "patches/"+name); err != nil {
				f.Close()
				return err
			}
			wrote = true
			continue
		}
		if p.Path != "" {
			if ok, err := addFile(w, p.Path, "patches/"+name); err != nil {
				f.Close()
				return err
			} else if ok {
				wrote = true
			}
		}
	}

	if workspaceDir != "" {
		if err := filepath.Walk(workspaceDir, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil || info.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(workspaceDir, path)
			if relErr != nil || isExcluded(rel) {
				return nil
			}
			if ok, err := addFile(w, path, "workspace/"+filepath.ToSlash(rel)); err != nil {
				return err
			} else if ok {
				wrote = true
			}
			return nil
		}); err != nil {
			f.Close()
			return err
		}
	}

	if !wrote {
		if err := addBytes(w, []byte("no workspace, log, or patch content was available to archive\n"), "README.txt"); err != nil {
			f.Close()
			return err
		}
	}

	if err := w.Close(); err != nil {
		f.Close()
		return taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "closing failure archive")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "fsync failure archive")
	}
	if err := f.Close(); err != nil {
		return taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "closing failure archive file")
	}
	if err := os.Rename(tmp, destPath); err != nil {
		return taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "renaming failure archive")
	}
	return nil
}

// DiffBundle writes, for each promoted path, its unified diff since
// base into diff/<path>.patch, plus every issue log and a flat-text
// manifest.txt (issue_id=, base_sha=, then counted FILE/DIFF/LOG
// lines: FILE lines in promoted-path order, DIFF and LOG lines sorted).
func DiffBundle(git *gitops.Git, repoDir, destPath, issueID, baseSHA string, promotedPaths, logPaths []string) error {
	tmp := destPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "create diff bundle")
	}
	w := zip.NewWriter(f)

	var diffEntries, logEntries []string

	for _, path := range promotedPaths {
		diff, err := git.UnifiedDiffSince(repoDir, baseSHA, path)
		if err != nil {
			w.Close()
			f.Close()
			return err
		}
		entry := "diff/" + path + ".patch"
		if err := addBytes(w, []byte(diff), entry); err != nil {
			f.Close()
			return err
		}
		diffEntries = append(diffEntries, entry)
	}

	for _, logPath := range logPaths {
		if ok, err := addFile(w, logPath, "logs/"+filepath.Base(logPath)); err != nil {
			f.Close()
			return err
		} else if ok {
			logEntries = append(logEntries, "logs/"+filepath.Base(logPath))
		}
	}

	sort.Strings(diffEntries)
	sort.Strings(logEntries)

	lines := []string{
		"issue_id=" + issueID,
		"base_sha=" + baseSHA,
		"files_to_promote=" + strconv.Itoa(len(promotedPaths)),
	}
	for _, path := range promotedPaths {
		lines = append(lines, "FILE "+path)
	}
	lines = append(lines, "diff_entries="+strconv.Itoa(len(diffEntries)))
	for _, d := range diffEntries {
		lines = append(lines, "DIFF "+d)
	}
	lines = append(lines, "logs="+strconv.Itoa(len(logEntries)))
	for _, l := range logEntries {
		lines = append(lines, "LOG "+l)
	}
	lines = append(lines, "")

	if err := addBytes(w, []byte(strings.Join(lines, "\n")), "manifest.txt"); err != nil {
		f.Close()
		return err
	}

	if err := w.Close(); err != nil {
		f.Close()
		return taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "closing diff bundle")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "fsync diff bundle")
	}
	if err := f.Close(); err != nil {
		return taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "closing diff bundle file")
	}
	if err := os.Rename(tmp, destPath); err != nil {
		return taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "renaming diff bundle")
	}
	return nil
}

func addFile(w *zip.Writer, srcPath, arcname string) (bool, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "reading "+srcPath)
	}
	defer src.Close()

	dst, err := w.Create(arcname)
	if err != nil {
		return false, taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "creating archive entry "+arcname)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return false, taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "writing archive entry "+arcname)
	}
	return true, nil
}

func addBytes(w *zip.Writer, data []byte, arcname string) error {
	dst, err := w.Create(arcname)
	if err != nil {
		return taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "creating archive entry "+arcname)
	}
	_, err = dst.Write(data)
	if err != nil {
		return taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "writing archive entry "+arcname)
	}
	return nil
}

func isExcluded(rel string) bool {
	if strings.HasSuffix(rel, ".pyc") {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if _, ok := excludedDirNames[part]; ok {
			return true
		}
	}
	return false
}

func fsyncPath(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "opening for fsync "+path)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return taxonomy.Wrap(taxonomy.StageArchive, taxonomy.CategoryInternal, err, "fsync "+path)
	}
	return nil
}
