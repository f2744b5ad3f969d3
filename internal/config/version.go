package config

import "fmt"

// CurrentVersion is the latest supported configuration file version.
const CurrentVersion = 1

// VersionError describes a configuration version mismatch.
type VersionError struct {
	Version int
	Current int
	Reason  string
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Reason {
	case "newer than this build":
		return fmt.Sprintf("config version %d is newer than this build (current: %d). upgrade joingate to continue", e.Version, e.Current)
	case "missing":
		return fmt.Sprintf("config version is missing. add `version: %d` to the config file", e.Current)
	case "":
		return fmt.Sprintf("config version %d is unsupported (current: %d)", e.Version, e.Current)
	default:
		return fmt.Sprintf("config version %d is %s (current: %d). see `joingate schema` for the current layout", e.Version, e.Reason, e.Current)
	}
}

// ValidateVersion ensures the provided config version is supported.
func ValidateVersion(version int) error {
	switch {
	case version <= 0:
		return &VersionError{Version: version, Current: CurrentVersion, Reason: "missing"}
	case version < CurrentVersion:
		return &VersionError{Version: version, Current: CurrentVersion, Reason: "outdated"}
	case version > CurrentVersion:
		return &VersionError{Version: version, Current: CurrentVersion, Reason: "newer than this build"}
	}
	return nil
}
