package thumbs

import (
	"image"
	"os"

	"github.com/disintegration/imaging"
)

// CropAvatarFile square-fits the image at path in place for avatar
// use. Images already square and under maxSize are left untouched.
// Returns the resulting side length and whether the file was rewritten.
func CropAvatarFile(path string, maxSize int) (int, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false, err
	}
	img, format, err := image.Decode(f)
	f.Close()
	if err != nil {
		return 0, false, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	side := width
	if width == height && width <= maxSize {
		return side, false, nil
	}

	side = width
	if height < side {
		side = height
	}
	if side > maxSize {
		side = maxSize
	}

	cropped := imaging.Fill(img, side, side, imaging.Center, imaging.Lanczos)

	out, err := os.Create(path)
	if err != nil {
		return 0, false, err
	}
	if err := imaging.Encode(out, cropped, formatFor(format)); err != nil {
		out.Close()
		return 0, false, err
	}
	if err := out.Close(); err != nil {
		return 0, false, err
	}
	return side, true, nil
}

func formatFor(name string) imaging.Format {
	switch name {
	case "png":
		return imaging.PNG
	case "gif":
		return imaging.GIF
	case "tiff":
		return imaging.TIFF
	case "bmp":
		return imaging.BMP
	default:
		return imaging.JPEG
	}
}

func extFor(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return ".png"
	case imaging.GIF:
		return ".gif"
	case imaging.TIFF:
		return ".tif"
	case imaging.BMP:
		return ".bmp"
	default:
		return ".jpg"
	}
}
