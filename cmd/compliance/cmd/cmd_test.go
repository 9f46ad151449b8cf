package cmd

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-compliance/internal/queue"
)

type countingObserver struct {
	mu    sync.Mutex
	calls int
}

func (c *countingObserver) JobFinished(queue.Job, queue.Outcome, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func TestRelay_ForwardsOnceSet(t *testing.T) {
	r := &relay{}
	r.JobFinished(queue.Job{}, queue.OutcomeSucceeded, nil)

	target := &countingObserver{}
	r.set(target)
	r.JobFinished(queue.Job{}, queue.OutcomeSucceeded, nil)

	assert.Equal(t, 1, target.calls)
}

func TestCollectVerifyFiles(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(nested, 0o755))
	for _, name := range []string{"a.xml", "b.txt", filepath.Join("nested", "c.XML")} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("<x/>"), 0o644))
	}

	files, err := collectVerifyFiles([]string{dir})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(dir, "a.xml"), filepath.Join(nested, "c.XML")}, files)

	files, err = collectVerifyFiles([]string{filepath.Join(dir, "*.txt")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.txt")}, files)

	_, err = collectVerifyFiles([]string{filepath.Join(dir, "missing.xml")})
	assert.Error(t, err)
}

func TestFirstHelpers(t *testing.T) {
	assert.Equal(t, "b", firstString("", "b", "c"))
	assert.Equal(t, "", firstString("", ""))
	assert.Equal(t, 2*1e9, float64(firstDuration(0, 2e9)))
}

func TestRootCommand_LoadsConfigBeforeSubcommand(t *testing.T) {
	t.Cleanup(func() {
		logLevel = ""
		rootCmd.SetArgs(nil)
	})

	rootCmd.SetArgs([]string{"secrets", "keygen", "--log-level", "warn"})
	require.NoError(t, rootCmd.Execute())

	require.NotNil(t, cfg)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "warn", logger.GetLevel().String())
}
