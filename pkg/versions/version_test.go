package versions

import (
	"fmt"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion(t *testing.T) { //nolint:paralleltest // mutates package variables
	origVersion := version
	origCommit := commit
	t.Cleanup(func() {
		version = origVersion
		commit = origCommit
	})

	version = "v1.2.3"
	assert.Equal(t, "v1.2.3", Version())

	version = "dev"
	commit = "abc123def456789"
	assert.Equal(t, "build-abc123de", Version())

	commit = unknownStr
	assert.True(t, strings.HasPrefix(Version(), "build-"))
}

func TestGetVersionInfo(t *testing.T) { //nolint:paralleltest // mutates package variables
	origVersion := version
	t.Cleanup(func() { version = origVersion })

	version = "v2.0.0"
	info := GetVersionInfo()

	assert.Equal(t, "v2.0.0", info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH), info.Platform)
}
