package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeEncoder(size int, err error) encodeFunc {
	return func(_ context.Context, inputPath, outputDir string) (string, error) {
		if err != nil {
			return "", err
		}
		out := filepath.Join(outputDir, mkvName(inputPath))
		return out, os.WriteFile(out, make([]byte, size), 0o644)
	}
}

func TestDraptoReplacesWithSmallerMKV(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "movie.mp4")
	require.NoError(t, os.WriteFile(input, make([]byte, 100), 0o644))

	d := NewDrapto(nil)
	d.encode = fakeEncoder(40, nil)

	res, err := d.Process(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "movie.mkv"), res.Path)
	require.EqualValues(t, 60, res.Saved())

	_, err = os.Stat(input)
	require.True(t, os.IsNotExist(err), "original should be removed")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "scratch dir must be cleaned up")
}

func TestDraptoNoReduction(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "clip.mkv")
	require.NoError(t, os.WriteFile(input, make([]byte, 50), 0o644))

	d := NewDrapto(nil)
	d.encode = fakeEncoder(80, nil)

	_, err := d.Process(context.Background(), input)
	require.ErrorIs(t, err, ErrNoReduction)
	info, statErr := os.Stat(input)
	require.NoError(t, statErr)
	require.EqualValues(t, 50, info.Size())
}

func TestDraptoEncodeError(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "clip.mkv")
	require.NoError(t, os.WriteFile(input, make([]byte, 50), 0o644))

	d := NewDrapto(nil)
	d.encode = fakeEncoder(0, errors.New("ffmpeg missing"))

	_, err := d.Process(context.Background(), input)
	require.ErrorContains(t, err, "ffmpeg missing")
	require.False(t, IsPermanent(err))
}
