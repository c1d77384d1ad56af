package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DmitrySigaev/RayPlatform/config"
	"github.com/DmitrySigaev/RayPlatform/router"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadValidTopology(t *testing.T) {
	p := writeTemp(t, "size: 8\ngraph_type: ring\ndegree: 0\ncrc32: true\ncompression: false\ndrain_window_seconds: 5\n")
	c, err := config.Load(p)
	require.NoError(t, err)
	require.Equal(t, 8, c.Size)
	require.True(t, c.CRC32)

	rc, err := c.RouterConfig()
	require.NoError(t, err)
	require.Equal(t, router.Ring, rc.Type)
}

func TestLoadRejectsZeroSize(t *testing.T) {
	p := writeTemp(t, "size: 0\n")
	_, err := config.Load(p)
	require.Error(t, err)
}

func TestUnknownGraphTypeIsFatal(t *testing.T) {
	p := writeTemp(t, "size: 4\ngraph_type: mesh\n")
	c, err := config.Load(p)
	require.NoError(t, err)
	_, err = c.RouterConfig()
	require.Error(t, err)
}

func TestDefaultGraphTypeIsComplete(t *testing.T) {
	p := writeTemp(t, "size: 2\n")
	c, err := config.Load(p)
	require.NoError(t, err)
	gt, err := c.GraphTypeValue()
	require.NoError(t, err)
	require.Equal(t, router.Complete, gt)
}
