package imaging

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func grayFrame(shade uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	return img
}

func TestWriteFramesPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	frames := []image.Image{grayFrame(0), grayFrame(128), grayFrame(255)}

	names, err := WriteFrames(dir, frames)
	if err != nil {
		t.Fatalf("WriteFrames failed: %v", err)
	}

	if len(names) != len(frames) {
		t.Fatalf("WriteFrames returned %d names, want %d", len(names), len(frames))
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("names %v are not in lexical order", names)
	}

	for i, name := range names {
		if want := FrameName(i); name != want {
			t.Errorf("names[%d] = %q, want %q", i, name, want)
		}
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("opening %s: %v", name, err)
		}
		if _, err := png.Decode(f); err != nil {
			t.Errorf("%s is not valid PNG: %v", name, err)
		}
		f.Close()
	}
}

func TestWriteFramesFailsOnMissingDir(t *testing.T) {
	_, err := WriteFrames(filepath.Join(t.TempDir(), "missing"), []image.Image{grayFrame(0)})
	if err == nil {
		t.Error("expected error writing to missing directory")
	}
}
