package platform

import "runtime"

// Environment is the execution context the probe inspects. It is passed in
// explicitly so tests can simulate either tier without touching process state.
type Environment struct {
	// OS is the target operating system (GOOS)
	OS string

	// Arch is the target architecture (GOARCH)
	Arch string

	// CgoEnabled reports whether the binary was built with cgo, which the Go
	// plugin loader requires
	CgoEnabled bool

	// Sandboxed forces the portable tier regardless of the other fields
	Sandboxed bool
}

// pluginOS lists the operating systems where package plugin is implemented.
var pluginOS = map[string]bool{
	"linux":   true,
	"darwin":  true,
	"freebsd": true,
}

// HostEnvironment describes the running process. forcePortable marks the
// environment as sandboxed.
func HostEnvironment(forcePortable bool) Environment {
	return Environment{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CgoEnabled: cgoEnabled,
		Sandboxed:  forcePortable,
	}
}

// NativeCapable reports whether native extensions can be loaded at all.
func (e Environment) NativeCapable() bool {
	if e.Sandboxed {
		return false
	}
	switch e.OS {
	case "js", "wasip1":
		return false
	}
	return pluginOS[e.OS] && e.CgoEnabled
}

// String renders the environment for logs.
func (e Environment) String() string {
	s := e.OS + "/" + e.Arch
	if e.Sandboxed {
		s += " (sandboxed)"
	}
	if !e.CgoEnabled {
		s += " (no cgo)"
	}
	return s
}
