// Package gate decides whether a job requires human approval before it may
// be scheduled.
package gate

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/autopatch-dev/autopatch/internal/models"
)

// Policy maps job types to an approval requirement. Mutating actions default
// to requiring approval; read-only actions do not.
type Policy struct {
	requires map[models.JobType]bool
}

// DefaultPolicy returns the built-in approval policy.
func DefaultPolicy() *Policy {
	return &Policy{requires: map[models.JobType]bool{
		models.JobTypeScanNow:           false,
		models.JobTypeReportOnly:        false,
		models.JobTypeApplyPatches:      true,
		models.JobTypeApplySecurityOnly: true,
		models.JobTypeReboot:            true,
	}}
}

type policyFile struct {
	RequireApproval map[string]bool `yaml:"require_approval"`
}

// LoadPolicy reads a YAML policy file and overlays it on the defaults.
// Unknown job types in the file are rejected rather than ignored.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read approval policy")
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to parse approval policy")
	}

	policy := DefaultPolicy()
	for name, required := range file.RequireApproval {
		jobType := models.JobType(name)
		if !jobType.Valid() {
			return nil, fmt.Errorf("approval policy references unknown job type %q", name)
		}
		policy.requires[jobType] = required
	}
	return policy, nil
}

// Resolve returns the effective approval requirement for a job. An explicit
// request override always wins; a nil override falls through to policy.
func (p *Policy) Resolve(jobType models.JobType, override *bool) bool {
	if override != nil {
		return *override
	}
	return p.requires[jobType]
}
