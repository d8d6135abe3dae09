package ipipe

import (
	"os"
	"testing"
	"time"

	"github.com/containerd/log"
	"gotest.tools/v3/assert"
)

func TestConfigDefaults(t *testing.T) {
	c := newConfig(nil)
	assert.Equal(t, c.Dir, os.TempDir())
	assert.Equal(t, c.BufferSize, int32(65536))
	assert.Equal(t, c.Cleanup, NoDelete)
	assert.Equal(t, c.Timeout, time.Duration(0))
	assert.Equal(t, c.Logger, log.L)

	ctx, cancel := c.context()
	defer cancel()
	_, ok := ctx.Deadline()
	assert.Assert(t, !ok, "unbounded config has a deadline")
}

func TestConfigOptions(t *testing.T) {
	var called bool
	c := newConfig([]Option{
		WithTimeout(time.Second),
		WithDir("/somewhere"),
		WithCleanup(DeleteOnClose),
		WithBufferSize(512),
		WithCleanupErrorHandler(func(string, error) { called = true }),
	})
	assert.Equal(t, c.Timeout, time.Second)
	assert.Equal(t, c.Dir, "/somewhere")
	assert.Equal(t, c.Cleanup, DeleteOnClose)
	assert.Equal(t, c.BufferSize, int32(512))
	c.OnCleanupError("", nil)
	assert.Assert(t, called)

	ctx, cancel := c.context()
	defer cancel()
	_, ok := ctx.Deadline()
	assert.Assert(t, ok)
}
