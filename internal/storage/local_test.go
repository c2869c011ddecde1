package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCreateOpen(t *testing.T) {
	dir := t.TempDir()
	p := NewLocalProvider(dir)
	ctx := context.Background()

	w, errc := p.Create(ctx, "exports/job-1.csv")
	require.NotNil(t, w)
	_, err := io.WriteString(w, "id,name\n1,ada\n")
	require.NoError(t, err)

	// Nothing is visible before Close.
	_, err = os.Stat(filepath.Join(dir, "exports", "job-1.csv"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, w.Close())
	require.NoError(t, <-errc)

	r, err := p.Open(ctx, "exports/job-1.csv")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,ada\n", string(data))

	assert.True(t, strings.HasPrefix(p.URL("exports/job-1.csv"), "file://"))
}

func TestLocalAbortDiscards(t *testing.T) {
	dir := t.TempDir()
	p := NewLocalProvider(dir)

	w, errc := p.Create(context.Background(), "partial.bin")
	_, err := w.Write([]byte("half"))
	require.NoError(t, err)

	cause := errors.New("export failed")
	require.NoError(t, Abort(w, cause))
	assert.ErrorIs(t, <-errc, cause)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalRejectsTraversal(t *testing.T) {
	p := NewLocalProvider(t.TempDir())

	w, errc := p.Create(context.Background(), "../escape.txt")
	assert.Nil(t, w)
	assert.Error(t, <-errc)

	_, err := p.Open(context.Background(), "a/../../etc/passwd")
	assert.Error(t, err)
}

func TestCleanKey(t *testing.T) {
	k, err := CleanKey("/exports//a.csv")
	require.NoError(t, err)
	assert.Equal(t, "exports/a.csv", k)

	k, err = CleanKey(`imports\b.pgcopy`)
	require.NoError(t, err)
	assert.Equal(t, "imports/b.pgcopy", k)

	for _, bad := range []string{"", "/", "..", "x/../../y"} {
		_, err := CleanKey(bad)
		assert.Error(t, err, bad)
	}
}
