package function

import (
	"github.com/Masterminds/semver/v3"

	"github.com/teranos/warden/errors"
)

// validateVersion checks that version parses as semver and requires as a semver constraint.
// Both are optional.
func validateVersion(version, requires string) error {
	if version != "" {
		if _, err := semver.NewVersion(version); err != nil {
			return errors.Mark(errors.Wrapf(err, "invalid version %s", version), errors.ErrInvalidRequest)
		}
	}
	if requires != "" {
		if _, err := semver.NewConstraint(requires); err != nil {
			return errors.Mark(errors.Wrapf(err, "invalid version constraint %s", requires), errors.ErrInvalidRequest)
		}
	}
	return nil
}

// CheckCompatibility checks the Requires constraint against the running manager version.
func (s Spec) CheckCompatibility(managerVersion string) error {
	if s.Requires == "" {
		// No version constraint specified
		return nil
	}

	current, err := semver.NewVersion(managerVersion)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "invalid manager version %s", managerVersion), errors.ErrInvalidRequest)
	}

	constraint, err := semver.NewConstraint(s.Requires)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "invalid version constraint %s", s.Requires), errors.ErrInvalidRequest)
	}

	if !constraint.Check(current) {
		err := errors.NewInvalidRequestError("function %s requires manager %s, but running %s",
			s.FunctionID, s.Requires, managerVersion)
		return errors.WithHint(err, "upgrade the manager or relax the function's requires constraint")
	}
	return nil
}
