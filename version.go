package wasmlauncher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coreos/go-semver/semver"
)

// Version is the launcher release. Override at build time with
// -ldflags "-X github.com/wippyai/wasm-launcher.Version=3.3.2".
var Version = "3.3.1"

// Release levels, in the order the hosted application reports them.
const (
	ReleaseDev       = "dev"
	ReleaseAlpha     = "alpha"
	ReleaseBeta      = "beta"
	ReleaseCandidate = "candidate"
	ReleaseFinal     = "final"
)

// VersionInfo is the five-field version tuple shared by the launcher and
// the hosted application.
type VersionInfo struct {
	ReleaseLevel string
	Major        uint32
	Minor        uint32
	Patch        uint32
	Serial       uint32
}

// Triple renders MAJOR.MINOR.PATCH.
func (v VersionInfo) Triple() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// SameRelease compares major, minor and patch only.
func (v VersionInfo) SameRelease(o VersionInfo) bool {
	return v.Major == o.Major && v.Minor == o.Minor && v.Patch == o.Patch
}

func (v VersionInfo) String() string {
	if v.ReleaseLevel == ReleaseFinal || v.ReleaseLevel == "" {
		return v.Triple()
	}
	return fmt.Sprintf("%s%s%d", v.Triple(), preReleasePrefix(v.ReleaseLevel), v.Serial)
}

// NativeVersion returns the launcher's compiled-in version.
func NativeVersion() (VersionInfo, error) {
	return ParseVersion(Version)
}

// ParseVersion parses a semantic version such as "3.3.1" or "3.4.0-rc2".
// The pre-release part maps to a release level and serial.
func ParseVersion(s string) (VersionInfo, error) {
	sv, err := semver.NewVersion(strings.TrimPrefix(s, "v"))
	if err != nil {
		return VersionInfo{}, fmt.Errorf("parse version %q: %w", s, err)
	}
	if sv.Major < 0 || sv.Minor < 0 || sv.Patch < 0 {
		return VersionInfo{}, fmt.Errorf("parse version %q: negative component", s)
	}

	v := VersionInfo{
		Major:        uint32(sv.Major),
		Minor:        uint32(sv.Minor),
		Patch:        uint32(sv.Patch),
		ReleaseLevel: ReleaseFinal,
	}
	if sv.PreRelease == "" {
		return v, nil
	}

	level, serial, err := parsePreRelease(sv.PreRelease.Slice())
	if err != nil {
		return VersionInfo{}, fmt.Errorf("parse version %q: %w", s, err)
	}
	v.ReleaseLevel = level
	v.Serial = serial
	return v, nil
}

// parsePreRelease accepts "rc2", "rc.2", "beta", "dev.0" and friends.
func parsePreRelease(parts []string) (string, uint32, error) {
	head := parts[0]
	i := strings.IndexFunc(head, func(r rune) bool { return r >= '0' && r <= '9' })
	name, digits := head, ""
	if i >= 0 {
		name, digits = head[:i], head[i:]
	}
	if digits == "" && len(parts) > 1 {
		digits = parts[1]
	}

	var level string
	switch name {
	case "dev":
		level = ReleaseDev
	case "a", "alpha":
		level = ReleaseAlpha
	case "b", "beta":
		level = ReleaseBeta
	case "rc", "candidate":
		level = ReleaseCandidate
	default:
		return "", 0, fmt.Errorf("unknown pre-release %q", head)
	}

	if digits == "" {
		return level, 0, nil
	}
	n, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("pre-release serial %q: %w", digits, err)
	}
	return level, uint32(n), nil
}

func preReleasePrefix(level string) string {
	switch level {
	case ReleaseDev:
		return "dev"
	case ReleaseAlpha:
		return "a"
	case ReleaseBeta:
		return "b"
	case ReleaseCandidate:
		return "rc"
	}
	return level
}
