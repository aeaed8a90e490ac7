package types

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// PreviousVersion returns the release line a rollback should target:
// X.Y.Z (Z>0) -> X.Y.0, X.Y.0 (Y>0) -> X.(Y-1).0, X.0.0 (X>0) -> (X-1).0.0.
// ok is false when the version does not parse or is already 0.0.0.
func PreviousVersion(version string) (string, bool) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return "", false
	}

	switch {
	case v.Patch() > 0:
		return fmt.Sprintf("%d.%d.0", v.Major(), v.Minor()), true
	case v.Minor() > 0:
		return fmt.Sprintf("%d.%d.0", v.Major(), v.Minor()-1), true
	case v.Major() > 0:
		return fmt.Sprintf("%d.0.0", v.Major()-1), true
	default:
		return "", false
	}
}

// VersionInRanges reports whether version satisfies any of the semver
// constraints. An empty constraint list matches everything; unparsable
// constraints are skipped.
func VersionInRanges(version string, ranges []string) bool {
	if len(ranges) == 0 {
		return true
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}

	for _, r := range ranges {
		c, err := semver.NewConstraint(r)
		if err != nil {
			continue
		}
		if c.Check(v) {
			return true
		}
	}
	return false
}
