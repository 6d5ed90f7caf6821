package invar

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantExt string
		wantErr bool
	}{
		{"", "png", "png", false},
		{"png", "png", "png", false},
		{"PNG256", "png", "png", false},
		{"png8", "png", "png", false},
		{"jpeg", "jpeg", "jpg", false},
		{"jpg", "jpeg", "jpg", false},
		{"webp", "webp", "webp", false},
		{"tiff", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeFormat(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownFormat) {
					t.Errorf("NormalizeFormat(%q) error = %v, want ErrUnknownFormat", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("NormalizeFormat(%q) = %q, %v want %q", tt.in, got, err, tt.want)
			}

			ext, err := FormatExtension(tt.in)
			if err != nil || ext != tt.wantExt {
				t.Errorf("FormatExtension(%q) = %q, %v want %q", tt.in, ext, err, tt.wantExt)
			}
		})
	}
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 80, A: 255})
		}
	}
	return img
}

func TestEncodeImage(t *testing.T) {
	tests := []struct {
		format string
		magic  []byte
	}{
		{"png", []byte("\x89PNG")},
		{"jpeg", []byte{0xff, 0xd8, 0xff}},
		{"webp", []byte("RIFF")},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := EncodeImage(&buf, testImage(), tt.format, 0); err != nil {
				t.Fatal(err)
			}
			if !bytes.HasPrefix(buf.Bytes(), tt.magic) {
				t.Errorf("%s output starts with %x", tt.format, buf.Bytes()[:4])
			}
		})
	}
}

func TestSaveImageCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles", "3", "1", "2.png")
	if err := SaveImage(path, testImage(), "png", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("SaveImage() did not write %s: %v", path, err)
	}
}
