package invar

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
)

// DefaultQuality is used for lossy formats when none is configured.
const DefaultQuality = 90

// NormalizeFormat maps format aliases onto png, jpeg or webp.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(format) {
	case "", "png", "png8", "png32", "png256":
		return "png", nil
	case "jpeg", "jpg":
		return "jpeg", nil
	case "webp":
		return "webp", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// FormatExtension returns the file extension, without dot, for a format.
func FormatExtension(format string) (string, error) {
	f, err := NormalizeFormat(format)
	if err != nil {
		return "", err
	}
	if f == "jpeg" {
		return "jpg", nil
	}
	return f, nil
}

func EncodeImage(w io.Writer, img image.Image, format string, quality int) error {
	f, err := NormalizeFormat(format)
	if err != nil {
		return err
	}
	if quality <= 0 {
		quality = DefaultQuality
	}

	switch f {
	case "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: false, Quality: float32(quality)})
	default:
		return png.Encode(w, img)
	}
}

// SaveImage encodes img to filename, creating parent directories.
func SaveImage(filename string, img image.Image, format string, quality int) error {
	if err := os.MkdirAll(filepath.Dir(filename), os.ModePerm); err != nil {
		return err
	}

	f, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := EncodeImage(f, img, format, quality); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", filename, err)
	}
	return f.Close()
}
