package bootstrap

import (
	goruntime "runtime"

	"github.com/wippyai/wasm-launcher/locale"
)

// Platform names.
const (
	PlatformPOSIX = "posix"
	PlatformNT    = "nt"
)

// Platform is the operating system as seen by the launcher.
type Platform interface {
	// Name returns PlatformPOSIX or PlatformNT.
	Name() string
	// SetLocale sets category to name. An empty name reads the environment.
	SetLocale(category locale.Category, name string) (string, error)
}

// HostPlatform returns the platform the process runs on.
func HostPlatform() Platform {
	name := PlatformPOSIX
	if goruntime.GOOS == "windows" {
		name = PlatformNT
	}
	return hostPlatform{name: name, loc: locale.Process()}
}

type hostPlatform struct {
	loc  *locale.Locale
	name string
}

func (p hostPlatform) Name() string {
	return p.name
}

func (p hostPlatform) SetLocale(category locale.Category, name string) (string, error) {
	return p.loc.Setlocale(category, name)
}
