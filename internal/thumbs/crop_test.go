package thumbs

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestImage(t *testing.T, width, height int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "avatar.png")
	img := imaging.New(width, height, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	require.NoError(t, imaging.Save(img, path))
	return path
}

func decodeSize(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, _, err := image.Decode(f)
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestCropAvatarFile(t *testing.T) {
	t.Run("landscape is cropped to its short side", func(t *testing.T) {
		path := writeTestImage(t, 400, 300)

		side, cropped, err := CropAvatarFile(path, 1536)
		require.NoError(t, err)
		assert.True(t, cropped)
		assert.Equal(t, 300, side)

		w, h := decodeSize(t, path)
		assert.Equal(t, 300, w)
		assert.Equal(t, 300, h)
	})

	t.Run("square under cap is left untouched", func(t *testing.T) {
		path := writeTestImage(t, 200, 200)
		before, err := os.ReadFile(path)
		require.NoError(t, err)

		side, cropped, err := CropAvatarFile(path, 1536)
		require.NoError(t, err)
		assert.False(t, cropped)
		assert.Equal(t, 200, side)

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("oversized image is capped", func(t *testing.T) {
		path := writeTestImage(t, 2000, 1800)

		side, cropped, err := CropAvatarFile(path, 1536)
		require.NoError(t, err)
		assert.True(t, cropped)
		assert.Equal(t, 1536, side)

		w, h := decodeSize(t, path)
		assert.Equal(t, 1536, w)
		assert.Equal(t, 1536, h)
	})

	t.Run("small portrait is never upscaled", func(t *testing.T) {
		path := writeTestImage(t, 500, 2000)

		side, cropped, err := CropAvatarFile(path, 1536)
		require.NoError(t, err)
		assert.True(t, cropped)
		assert.Equal(t, 500, side)
	})

	t.Run("non-image fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "not-an-image")
		require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

		_, _, err := CropAvatarFile(path, 1536)
		assert.Error(t, err)
	})
}
