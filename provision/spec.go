// Package provision resolves browser driver binaries for a target
// browser/version/platform combination into a local, process-wide cache.
package provision

import (
	"fmt"
	"path"
)

// Browser names understood by the bundled sources.
const (
	Chromium = "chromium"
	Firefox  = "firefox"
)

// Platform names understood by the bundled sources.
const (
	Linux64 = "linux64"
	Mac64   = "mac64"
	Win32   = "win32"
)

// DriverSpec is the resolved identity of a driver binary. A spec is immutable
// once resolved and is cached process-wide keyed by
// (browser, constraint, platform).
type DriverSpec struct {
	// Browser is the target browser name, e.g. "chromium".
	Browser string
	// Constraint is the requested browser version range in semver range
	// syntax, e.g. ">=0.30.0 <0.40.0". Empty means latest.
	Constraint string
	// Platform is the target OS/architecture, e.g. "linux64".
	Platform string
	// Version is the driver version the constraint resolved to.
	Version string
	// BinaryPath is the local path of the validated driver executable.
	BinaryPath string
}

// Key identifies the spec in the resolver cache. Two Resolve calls with the
// same key share one resolution.
func (s *DriverSpec) Key() string {
	return path.Join(s.Browser, s.Platform, s.Constraint)
}

func (s *DriverSpec) String() string {
	if s.Version != "" {
		return fmt.Sprintf("%s/%s@%s", s.Browser, s.Platform, s.Version)
	}
	return fmt.Sprintf("%s/%s@%q", s.Browser, s.Platform, s.Constraint)
}

// Release describes a downloadable driver build returned by a Source.
type Release struct {
	// Version is the concrete version the lookup resolved to.
	Version string
	// URL is where the driver archive or binary can be fetched.
	URL string
	// Hash is the expected content hash of the download, hex encoded.
	// Empty disables verification.
	Hash string
	// HashType is "sha256" (default), "md5" or "sha1".
	HashType string
	// ArchiveMember is the path of the driver executable inside the
	// downloaded archive. Empty means the download is the bare executable.
	ArchiveMember string
	// LocalPath, when set, points at an already-installed executable and
	// skips the download entirely.
	LocalPath string
}

// ProvisionError indicates that no compatible driver binary could be
// obtained for a spec. It is fatal for the affected spec and is not retried
// beyond the resolver's own caching.
type ProvisionError struct {
	Spec  DriverSpec
	Cause error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning %s: %v", e.Spec.String(), e.Cause)
}

func (e *ProvisionError) Unwrap() error { return e.Cause }
