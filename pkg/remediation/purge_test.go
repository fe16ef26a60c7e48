// pkg/remediation/purge_test.go
package remediation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePurger(t *testing.T) {
	setupLogger(t)
	root := t.TempDir()
	old := time.Now().Add(-2 * time.Hour)

	write := func(rel string, mtime time.Time) string {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("cache"), 0644))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
		return path
	}

	staleFile := write("core.12345", old)
	freshFile := write("core.99999", time.Now())
	unrelated := write("notes.txt", old)

	profile := filepath.Join(root, "puppeteer_dev_chrome_profile-abc")
	write("puppeteer_dev_chrome_profile-abc/Default/Cache/data_0", old)
	require.NoError(t, os.Chtimes(profile, old, old))

	purger := NewCachePurger([]string{root, filepath.Join(root, "missing")},
		[]string{"core.*", "puppeteer_dev_chrome_profile-*"}, time.Hour)

	res, err := purger.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entries)
	assert.Positive(t, res.Bytes)

	assert.NoFileExists(t, staleFile)
	assert.NoDirExists(t, profile)
	assert.FileExists(t, freshFile)
	assert.FileExists(t, unrelated)

	again, err := purger.Purge(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Entries)
}

func TestCachePurgerRefusesFilesystemRoot(t *testing.T) {
	setupLogger(t)
	purger := NewCachePurger([]string{"/"}, []string{"*"}, 0)
	res, err := purger.Purge(context.Background())
	assert.Error(t, err)
	assert.Zero(t, res.Entries)
}
