package imaging

import (
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"

	"github.com/GoogleCloudPlatform/go-dicom-parser/dicom"
)

var (
	// ErrNotDICOM indicates the upload could not be parsed as a DICOM file.
	ErrNotDICOM = errors.New("not a parseable DICOM file")

	// ErrNoFrames indicates a parseable file with no decodable image frames.
	ErrNoFrames = errors.New("no decodable image frames")
)

// Decoder adapts Decode for injection into HTTP handlers.
type Decoder struct{}

func (Decoder) Decode(r io.Reader) ([]image.Image, error) {
	return Decode(r)
}

// frameInfo is the subset of image attributes needed to interpret native
// (uncompressed) pixel data.
type frameInfo struct {
	rows          int
	cols          int
	frames        int
	samples       int
	bitsAllocated int
	signed        bool
	monochrome1   bool
}

// Decode parses a DICOM stream and returns one 8-bit image per frame, in
// frame order. Grayscale frames are min-max normalized to the full 8-bit
// range, with MONOCHROME1 data inverted so that higher stored values render
// darker, as the standard requires.
//
// Only native pixel data is supported; encapsulated (compressed) transfer
// syntaxes fail with ErrNoFrames.
func Decode(r io.Reader) ([]image.Image, error) {
	ds, err := dicom.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDICOM, err)
	}

	info, err := readFrameInfo(ds)
	if err != nil {
		return nil, err
	}

	raw, err := pixelBytes(ds)
	if err != nil {
		return nil, err
	}

	// Compare via division: multiplying a hostile NumberOfFrames by the
	// frame size can wrap around and slip past a length check.
	frameSize := info.rows * info.cols * info.samples * info.bitsAllocated / 8
	if frameSize == 0 || info.frames > len(raw)/frameSize {
		return nil, ErrNoFrames
	}

	frames := make([]image.Image, 0, info.frames)
	for i := 0; i < info.frames; i++ {
		frames = append(frames, frameImage(raw[i*frameSize:(i+1)*frameSize], info))
	}
	return frames, nil
}

func readFrameInfo(ds *dicom.DataSet) (frameInfo, error) {
	info := frameInfo{
		rows:          intValue(ds, dicom.RowsTag, 0),
		cols:          intValue(ds, dicom.ColumnsTag, 0),
		frames:        intValue(ds, dicom.NumberOfFramesTag, 1),
		samples:       intValue(ds, dicom.SamplesPerPixelTag, 1),
		bitsAllocated: intValue(ds, dicom.BitsAllocatedTag, 8),
		signed:        intValue(ds, dicom.PixelRepresentationTag, 0) == 1,
		monochrome1:   strings.EqualFold(stringValue(ds, dicom.PhotometricInterpretationTag), "MONOCHROME1"),
	}

	if info.rows <= 0 || info.cols <= 0 || info.frames <= 0 {
		return info, ErrNoFrames
	}
	switch {
	case info.samples == 1 && (info.bitsAllocated == 8 || info.bitsAllocated == 16):
	case info.samples == 3 && info.bitsAllocated == 8:
	default:
		return info, fmt.Errorf("%w: unsupported pixel layout (%d samples, %d bits)",
			ErrNoFrames, info.samples, info.bitsAllocated)
	}
	return info, nil
}

// pixelBytes concatenates the fragments of the PixelData element. Native
// pixel data arrives as a single fragment holding all frames.
func pixelBytes(ds *dicom.DataSet) ([]byte, error) {
	elem, ok := ds.Elements[dicom.PixelDataTag]
	if !ok {
		return nil, ErrNoFrames
	}

	switch v := elem.ValueField.(type) {
	case dicom.BulkDataBuffer:
		var raw []byte
		for _, fragment := range v.Data() {
			raw = append(raw, fragment...)
		}
		return raw, nil
	case [][]byte:
		var raw []byte
		for _, fragment := range v {
			raw = append(raw, fragment...)
		}
		return raw, nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unexpected pixel data type %T", ErrNoFrames, elem.ValueField)
	}
}

// frameImage converts one frame of native pixel data into an 8-bit image.
func frameImage(raw []byte, info frameInfo) image.Image {
	if info.samples == 3 {
		return rgbImage(raw, info)
	}
	return grayImage(raw, info)
}

func grayImage(raw []byte, info frameInfo) image.Image {
	values := sampleValues(raw, info)

	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	img := image.NewGray(image.Rect(0, 0, info.cols, info.rows))
	for i, v := range values {
		scaled := uint8((v - lo) * 255 / span)
		if info.monochrome1 {
			scaled = 255 - scaled
		}
		img.Pix[i] = scaled
	}
	return img
}

func rgbImage(raw []byte, info frameInfo) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, info.cols, info.rows))
	for i := 0; i < info.rows*info.cols; i++ {
		img.Pix[i*4+0] = raw[i*3+0]
		img.Pix[i*4+1] = raw[i*3+1]
		img.Pix[i*4+2] = raw[i*3+2]
		img.Pix[i*4+3] = 0xff
	}
	return img
}

// sampleValues widens one grayscale frame into ints. 16-bit data is little
// endian; signed data is reinterpreted via int16.
func sampleValues(raw []byte, info frameInfo) []int {
	n := info.rows * info.cols
	values := make([]int, n)

	if info.bitsAllocated == 8 {
		for i := 0; i < n; i++ {
			values[i] = int(raw[i])
		}
		return values
	}

	for i := 0; i < n; i++ {
		v := uint16(raw[i*2]) | uint16(raw[i*2+1])<<8
		if info.signed {
			values[i] = int(int16(v))
		} else {
			values[i] = int(v)
		}
	}
	return values
}

// intValue reads the first value of a numeric or IS element, tolerating the
// handful of representations the parser produces.
func intValue(ds *dicom.DataSet, tag dicom.DataElementTag, fallback int) int {
	elem, ok := ds.Elements[tag]
	if !ok {
		return fallback
	}
	switch v := elem.ValueField.(type) {
	case []uint16:
		if len(v) > 0 {
			return int(v[0])
		}
	case []int16:
		if len(v) > 0 {
			return int(v[0])
		}
	case []uint32:
		if len(v) > 0 {
			return int(v[0])
		}
	case []int32:
		if len(v) > 0 {
			return int(v[0])
		}
	case []string:
		if len(v) > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(v[0])); err == nil {
				return n
			}
		}
	}
	return fallback
}

func stringValue(ds *dicom.DataSet, tag dicom.DataElementTag) string {
	elem, ok := ds.Elements[tag]
	if !ok {
		return ""
	}
	if v, ok := elem.ValueField.([]string); ok && len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}
