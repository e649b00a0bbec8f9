// Package auditrubric implements the audit rubric guard: a preflight
// check that the live repo carries a well-formed audit/audit_rubric.yaml
// before a run proceeds, mirroring the shape the Python audit evaluator
// requires before it will score runtime evidence against it.
package auditrubric

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/boshu2/patchrunner/internal/taxonomy"
)

// DefaultPath is the rubric location relative to the repo root.
const DefaultPath = "audit/audit_rubric.yaml"

type rubric struct {
	Meta struct {
		SchemaVersion int `yaml:"schema_version"`
	} `yaml:"meta"`
	Domains map[string]any `yaml:"domains"`
}

// Guard verifies repoRoot/rubricPath exists, parses as YAML, declares a
// positive meta.schema_version, and has at least one domain. rubricPath
// defaults to DefaultPath when empty.
func Guard(repoRoot, rubricPath string) error {
	if rubricPath == "" {
		rubricPath = DefaultPath
	}
	path := filepath.Join(repoRoot, rubricPath)

	data, err := os.ReadFile(path)
	if err != nil {
		return taxonomy.Wrap(taxonomy.StageAudit, taxonomy.CategoryAuditReportFailed, err, "reading audit rubric "+rubricPath)
	}

	var r rubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return taxonomy.Wrap(taxonomy.StageAudit, taxonomy.CategoryAuditReportFailed, err, "parsing audit rubric "+rubricPath)
	}
	if r.Meta.SchemaVersion <= 0 {
		return taxonomy.New(taxonomy.StageAudit, taxonomy.CategoryAuditReportFailed, "audit rubric "+rubricPath+" missing meta.schema_version")
	}
	if len(r.Domains) == 0 {
		return taxonomy.New(taxonomy.StageAudit, taxonomy.CategoryAuditReportFailed, "audit rubric "+rubricPath+" declares no domains")
	}
	return nil
}
