package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureStateDirsBuildsLayout(t *testing.T) {
	base := filepath.Join(t.TempDir(), "data")
	require.NoError(t, EnsureStateDirs(base))

	for _, p := range []string{
		PathsVar.Store,
		PathsVar.Uploads,
		PathsVar.Retention,
		PathsVar.Audit,
		PathsVar.Tmp,
	} {
		fi, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.True(t, fi.IsDir(), p)
		assert.Equal(t, os.FileMode(0o700), fi.Mode().Perm(), p)
	}
	assert.Equal(t, filepath.Join(base, "store"), PathsVar.Store)
	assert.Equal(t, filepath.Join(base, "state", "uploads"), PathsVar.Uploads)

	// idempotent on an existing layout
	require.NoError(t, EnsureStateDirs(base))
}

func TestEnsureStateDirsRejectsSymlink(t *testing.T) {
	base := filepath.Join(t.TempDir(), "data")
	elsewhere := t.TempDir()
	require.NoError(t, os.MkdirAll(base, 0o700))
	require.NoError(t, os.Symlink(elsewhere, filepath.Join(base, "store")))

	err := EnsureStateDirs(base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symlink")
}

func TestEnsureStateDirsRejectsPermissiveMode(t *testing.T) {
	base := filepath.Join(t.TempDir(), "data")
	store := filepath.Join(base, "store")
	require.NoError(t, os.MkdirAll(store, 0o700))
	// chmod directly, MkdirAll modes are clipped by the umask
	require.NoError(t, os.Chmod(store, 0o777))

	err := EnsureStateDirs(base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissive mode")
}

func TestEnsureStateDirsRejectsFileInTheWay(t *testing.T) {
	base := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.MkdirAll(base, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(base, "store"), []byte("x"), 0o600))

	err := EnsureStateDirs(base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestArtifactPathUsesEnvRoot(t *testing.T) {
	t.Setenv("CHATWIRE_ARTIFACT_ROOT", t.TempDir())
	// first caller in this test binary fills the cache
	root := ArtifactRoot()
	if root == "" {
		assert.Empty(t, ArtifactPath("telemetry"))
		return
	}
	assert.Equal(t, filepath.Join(root, "telemetry"), ArtifactPath("telemetry"))
}
