package version

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionInfo(t *testing.T) {
	saved := Version
	t.Cleanup(func() { Version = saved })

	Version = "1.2.3"
	info := GetVersionInfo()
	assert.Contains(t, info, "coroscope v1.2.3")
	assert.Contains(t, info, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestResolve(t *testing.T) {
	module := func(v string) func() (*debug.BuildInfo, bool) {
		return func() (*debug.BuildInfo, bool) {
			return &debug.BuildInfo{Main: debug.Module{Version: v}}, true
		}
	}
	none := func() (*debug.BuildInfo, bool) { return nil, false }

	assert.Equal(t, "1.2.3", resolve("1.2.3", module("v0.4.0")))
	assert.Equal(t, "0.4.0", resolve("dev", module("v0.4.0")))
	assert.Equal(t, "dev", resolve("dev", module("(devel)")))
	assert.Equal(t, "dev", resolve("dev", none))
}
