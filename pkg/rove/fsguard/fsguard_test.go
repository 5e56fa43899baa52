package fsguard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ovrishq/rove/pkg/rove/errs"
	"github.com/stretchr/testify/require"
)

func TestGuard_AllowsPathInsideWorkspace(t *testing.T) {
	workspace := t.TempDir()
	file := filepath.Join(workspace, "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("hi"), 0o644))

	g, err := New(workspace)
	require.NoError(t, err)

	canonical, err := g.Validate(file)
	require.NoError(t, err)
	require.NotEmpty(t, canonical)
}

func TestGuard_RejectsDenyListLeaf(t *testing.T) {
	workspace := t.TempDir()
	sshDir := filepath.Join(workspace, ".ssh")
	require.NoError(t, os.Mkdir(sshDir, 0o755))
	key := filepath.Join(sshDir, "id_rsa")
	require.NoError(t, os.WriteFile(key, []byte("secret"), 0o600))

	g, err := New(workspace)
	require.NoError(t, err)

	_, err = g.Validate(key)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindPathDenied, kind)
}

func TestGuard_RejectsPathOutsideWorkspace(t *testing.T) {
	workspace := t.TempDir()
	outside := t.TempDir()
	file := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	g, err := New(workspace)
	require.NoError(t, err)

	_, err = g.Validate(file)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindPathOutsideWorkspace, kind)
}

func TestGuard_ValidateIsIdempotent(t *testing.T) {
	workspace := t.TempDir()
	file := filepath.Join(workspace, "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("hi"), 0o644))

	g, err := New(workspace)
	require.NoError(t, err)

	q1, err := g.Validate(file)
	require.NoError(t, err)
	q2, err := g.Validate(q1)
	require.NoError(t, err)
	require.Equal(t, q1, q2)
}

func TestGuard_ValidateForCreateRunsOnlyGateOne(t *testing.T) {
	workspace := t.TempDir()
	g, err := New(workspace)
	require.NoError(t, err)

	require.NoError(t, g.ValidateForCreate(filepath.Join(workspace, "new_file.txt")))

	err = g.ValidateForCreate(filepath.Join(workspace, ".env"))
	require.Error(t, err)
}
