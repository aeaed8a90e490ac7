package registry

import (
	"regexp"
	"strings"
)

// Capability is a function an agent performs, used for routing.
type Capability string

const (
	CapSecurityScan       Capability = "security_scan"
	CapDependencyAnalysis Capability = "dependency_analysis"
	CapSecurityVerify     Capability = "security_verify"
	CapIncidentResponse   Capability = "incident_response"
	CapCIPolicy           Capability = "ci_policy"
	CapReleaseGatekeeping Capability = "release_gatekeeping"
	CapAutofix            Capability = "autofix"
	CapPatchPlanner       Capability = "patch_planner"
)

// KnownCapabilities is the closed capability set.
var KnownCapabilities = []Capability{
	CapSecurityScan,
	CapDependencyAnalysis,
	CapSecurityVerify,
	CapIncidentResponse,
	CapCIPolicy,
	CapReleaseGatekeeping,
	CapAutofix,
	CapPatchPlanner,
}

// ExtensionPrefix marks the only open capability namespace. Extension
// capabilities are matched exactly like the known ones.
const ExtensionPrefix = "x-"

var extensionPattern = regexp.MustCompile(`^x-[a-z0-9][a-z0-9_.-]*$`)

// Valid reports whether c is a known capability or a well-formed extension.
func (c Capability) Valid() bool {
	for _, k := range KnownCapabilities {
		if c == k {
			return true
		}
	}
	return c.IsExtension()
}

// IsExtension reports whether c belongs to the x- namespace.
func (c Capability) IsExtension() bool {
	return strings.HasPrefix(string(c), ExtensionPrefix) && extensionPattern.MatchString(string(c))
}
