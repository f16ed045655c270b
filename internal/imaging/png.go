package imaging

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

// FrameName returns the on-disk PNG name for the zero-based frame index.
// Zero padding keeps lexical order equal to frame order.
func FrameName(i int) string {
	return fmt.Sprintf("slice_%04d.png", i+1)
}

// WriteFrames encodes each frame as a PNG in dir and returns the file names
// in frame order.
func WriteFrames(dir string, frames []image.Image) ([]string, error) {
	names := make([]string, 0, len(frames))
	for i, frame := range frames {
		name := FrameName(i)
		if err := writePNG(filepath.Join(dir, name), frame); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	return nil
}
