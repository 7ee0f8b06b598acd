package cgroup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sysparts/syspartd/internal/rule"
)

func TestClampNice(t *testing.T) {
	assert.Equal(t, -20, ClampNice(-99))
	assert.Equal(t, 19, ClampNice(99))
	assert.Equal(t, 0, ClampNice(0))
}

func TestClampOOM(t *testing.T) {
	assert.Equal(t, -17, ClampOOM(-99))
	assert.Equal(t, 15, ClampOOM(99))
	assert.Equal(t, 3, ClampOOM(3))
}

func TestWriteOOMAdjAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oom_adj")
	require.NoError(t, os.WriteFile(path, []byte("0\n"), 0o644))

	require.NoError(t, writeOOMAdjAt(path, 7))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7\n", string(b))
}

func TestWriteOOMAdjAtClamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oom_adj")
	require.NoError(t, os.WriteFile(path, []byte("0\n"), 0o644))

	require.NoError(t, writeOOMAdjAt(path, 999))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "15\n", string(b))
}

func TestWriteOOMAdjAtPreservesExistingNegative(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oom_adj")
	require.NoError(t, os.WriteFile(path, []byte("-17\n"), 0o644))

	require.NoError(t, writeOOMAdjAt(path, 5))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "-17\n", string(b), "a negative oom_adj must not be overwritten")
}

func TestWriteOOMAdjAtMissingFileIsSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist")
	assert.NoError(t, writeOOMAdjAt(path, 5))
}

func TestSchedPolicyNum(t *testing.T) {
	assert.Equal(t, schedFifo, schedPolicyNum(rule.SchedFifo))
	assert.Equal(t, schedRR, schedPolicyNum(rule.SchedRR))
	assert.Equal(t, schedOther, schedPolicyNum(rule.SchedOther))
	assert.Equal(t, schedBatch, schedPolicyNum(rule.SchedBatch))
}
