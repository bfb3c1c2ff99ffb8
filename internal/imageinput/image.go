// Package imageinput holds the image a user selected for recognition.
package imageinput

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/vincent-petithory/dataurl"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	errZeroSize = errors.New("zero-length data is not an image")
	// ErrTooLarge is returned when an image exceeds the configured size limit
	ErrTooLarge = errors.New("image too large")
)

// Image is an encoded raster image kept in memory.
// Nothing is decoded when an Image is created.
type Image struct {
	data      []byte
	mediaType string
	origin    string
}

// FromBytes wraps data. The media type is sniffed from the content.
func FromBytes(data []byte, origin string) (Image, error) {
	if len(data) == 0 {
		return Image{}, errZeroSize
	}
	return Image{data: data, mediaType: mimetype.Detect(data).String(), origin: origin}, nil
}

// FromDataURI decodes a data URI like the ones produced by FileReader.readAsDataURL.
// The media type declared in the URI is kept unless the content says otherwise.
func FromDataURI(uri string) (Image, error) {
	du, err := dataurl.DecodeString(uri)
	if err != nil {
		return Image{}, fmt.Errorf("decoding data URI: %w", err)
	}
	img, err := FromBytes(du.Data, "data URI")
	if err != nil {
		return Image{}, err
	}
	if declared := du.MediaType.ContentType(); !strings.HasPrefix(img.mediaType, "image/") && declared != "" {
		img.mediaType = declared
	}
	return img, nil
}

// FromReader reads at most maxBytes from r. It returns ErrTooLarge if there is more.
func FromReader(r io.Reader, maxBytes uint64, origin string) (Image, error) {
	if r == nil {
		return Image{}, errors.New("reader is nil")
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(maxBytes)+1))
	if err != nil {
		return Image{}, fmt.Errorf("reading image from %s: %w", origin, err)
	}
	if uint64(len(data)) > maxBytes {
		return Image{}, fmt.Errorf("%w: %s exceeds %s", ErrTooLarge, origin, humanize.IBytes(maxBytes))
	}
	return FromBytes(data, origin)
}

// FromPath reads the file at path. "-" reads from stdin.
func FromPath(path string, maxBytes uint64) (Image, error) {
	if path == "-" {
		return FromReader(os.Stdin, maxBytes, "stdin")
	}
	f, err := os.Open(path)
	if err != nil {
		return Image{}, err
	}
	defer f.Close()
	return FromReader(f, maxBytes, filepath.Base(path))
}

// Bytes returns the encoded image
func (img Image) Bytes() []byte { return img.data }

func (img Image) Len() int { return len(img.data) }

// MediaType returns the sniffed media type, e.g. image/png
func (img Image) MediaType() string { return img.mediaType }

// Origin describes where the image came from, e.g. a file name
func (img Image) Origin() string { return img.origin }

// IsZero reports whether img holds no data
func (img Image) IsZero() bool { return len(img.data) == 0 }

// IsImage reports whether the content looks like a raster image
func (img Image) IsImage() bool {
	return strings.HasPrefix(img.mediaType, "image/") && !strings.HasPrefix(img.mediaType, "image/svg")
}

// Dimensions decodes the image header and returns width and height.
func (img Image) Dimensions() (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// DataURI encodes the image for previewing it in a browser
func (img Image) DataURI() string {
	mt, _, _ := strings.Cut(img.mediaType, ";")
	return dataurl.New(img.data, strings.TrimSpace(mt)).String()
}

func (img Image) String() string {
	return fmt.Sprintf("%s (%s, %s)", img.origin, img.mediaType, humanize.IBytes(uint64(len(img.data))))
}
