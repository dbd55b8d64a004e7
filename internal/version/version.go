package version

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Version is set at build time with -ldflags "-X odisea.app/cloud/internal/version.Version=1.4.0".
var Version = "dev"

// Resolve returns the build-time version when one was linked in, otherwise
// the contents of the VERSION file at path. Unreadable or malformed files
// resolve to "dev".
func Resolve(path string) string {
	if Version != "dev" {
		return Version
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "dev"
	}
	v := strings.TrimPrefix(strings.TrimSpace(string(data)), "v")
	if _, err := ExtractMajorVersion(v); err != nil {
		return "dev"
	}
	return v
}

func ExtractMajorVersion(version string) (int, error) {
	if version == "" {
		return 0, fmt.Errorf("empty version string")
	}

	parts := strings.Split(version, ".")
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid major version: %v", err)
	}

	if major < 0 {
		return 0, fmt.Errorf("major version cannot be negative")
	}

	return major, nil
}
