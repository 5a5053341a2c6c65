package versions

import "github.com/Masterminds/semver/v3"

// DevVersion is the version of binaries built without ldflags
const DevVersion = "dev"

// RequiresUpgrade reports whether current is older than minimum.
// Development builds and versions that are not valid semver never require
// an upgrade.
func RequiresUpgrade(minimum, current string) bool {
	if minimum == "" || current == "" || current == DevVersion {
		return false
	}

	minVersion, err := semver.NewVersion(minimum)
	if err != nil {
		return false
	}
	currentVersion, err := semver.NewVersion(current)
	if err != nil {
		return false
	}

	return currentVersion.LessThan(minVersion)
}
