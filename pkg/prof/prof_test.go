package prof

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUProfileLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.prof")

	require.NoError(t, StartCPU(path))
	assert.ErrorIs(t, StartCPU(path), ErrCPUProfileActive)

	StopCPU()
	StopCPU() // idempotent

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestWriteProfiles(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, Write(ProfileHeap, filepath.Join(dir, "heap.prof")))
	require.NoError(t, Write(ProfileGoroutine, filepath.Join(dir, "goroutine.prof")))

	assert.ErrorIs(t, Write(ProfileCPU, filepath.Join(dir, "cpu.prof")), ErrInvalidProfile)
	assert.ErrorIs(t, Write(Profile("bogus"), filepath.Join(dir, "x.prof")), ErrInvalidProfile)
}
