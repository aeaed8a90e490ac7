package types

// ReleaseEvent describes one published package version handed to the scanner.
// Maps are keyed by name; consumers must iterate them in sorted order.
type ReleaseEvent struct {
	PackageName          string            `json:"packageName"`
	Version              string            `json:"version"`
	DeclaredDependencies map[string]string `json:"declaredDependencies,omitempty"`
	LifecycleScripts     map[string]string `json:"lifecycleScripts,omitempty"`
	SourceFiles          map[string]string `json:"sourceFiles,omitempty"`
	ProjectID            string            `json:"projectId,omitempty"`
	Source               string            `json:"source,omitempty"` // demo, registry, api
}

// Key returns the "name@version" form used in logs and reasons.
func (r ReleaseEvent) Key() string {
	return PackageKey(r.PackageName, r.Version)
}

// PackageKey formats a package reference as name@version.
func PackageKey(name, version string) string {
	return name + "@" + version
}
