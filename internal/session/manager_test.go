package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"atelier/internal/audit"
	"atelier/internal/errors"
	"atelier/internal/security"
)

func newTestManager(t *testing.T) (*Manager, *audit.Store, string) {
	t.Helper()
	root := t.TempDir()
	validator, err := security.NewValidator(root)
	require.NoError(t, err)

	store, err := audit.NewStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewManager("sess-1", validator, store), store, root
}

func TestManagerWriteReadList(t *testing.T) {
	m, _, root := newTestManager(t)

	require.NoError(t, m.WriteFile("sub/dir/file.txt", []byte("content")))

	data, err := m.ReadFile("sub/dir/file.txt")
	require.NoError(t, err)
	require.Equal(t, "content", string(data))

	entries, err := m.ListDir("sub")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "dir", entries[0].Name())

	// The file really is under the project root.
	_, err = os.Stat(filepath.Join(root, "sub", "dir", "file.txt"))
	require.NoError(t, err)
}

func TestManagerDenialIsAudited(t *testing.T) {
	m, store, _ := newTestManager(t)

	_, err := m.ReadFile("../../etc/passwd")
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrOutsideBoundary))

	denials, err := store.Denials(10)
	require.NoError(t, err)
	require.Len(t, denials, 1)
	require.Equal(t, "sess-1", denials[0].SessionID)
	require.Equal(t, audit.OpRead, denials[0].Op)
	require.False(t, denials[0].Success)
}

func TestManagerSuccessIsAudited(t *testing.T) {
	m, store, _ := newTestManager(t)

	require.NoError(t, m.WriteFile("a.txt", []byte("xyz")))

	events, err := store.BySession("sess-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, audit.OpWrite, events[0].Op)
	require.True(t, events[0].Success)
	require.Equal(t, 3, events[0].Bytes)
	require.NotEmpty(t, events[0].Resolved)
}

func TestManagerNilAuditStore(t *testing.T) {
	root := t.TempDir()
	validator, err := security.NewValidator(root)
	require.NoError(t, err)

	m := NewManager("sess-1", validator, nil)
	require.NoError(t, m.WriteFile("a.txt", []byte("x")))
	_, err = m.ReadFile("a.txt")
	require.NoError(t, err)
}

func TestManagerToolContext(t *testing.T) {
	m, _, root := newTestManager(t)

	tc := m.ToolContext(0)
	require.Equal(t, "sess-1", tc.SessionID)

	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	require.Equal(t, resolved, tc.ProjectRoot)
}
