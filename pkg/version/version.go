package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set at link time with -ldflags "-X".
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// GetVersionInfo returns the line printed by the version command and written
// to dump headers. An unstamped build installed with go install reports its
// module version.
func GetVersionInfo() string {
	return fmt.Sprintf("coroscope v%s (built: %s, %s/%s)",
		resolve(Version, debug.ReadBuildInfo),
		BuildTime,
		runtime.GOOS,
		runtime.GOARCH,
	)
}

func resolve(stamped string, read func() (*debug.BuildInfo, bool)) string {
	if stamped != "dev" {
		return stamped
	}
	info, ok := read()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return stamped
	}
	return strings.TrimPrefix(info.Main.Version, "v")
}
