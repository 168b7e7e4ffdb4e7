// Package filesource abstracts where a user-supplied image comes from, so the
// workflow controllers can read previews and upload bytes without caring
// whether the file arrived through a browser form, a drop, or the local disk.
package filesource

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/paperfold/fortuneteller/internal/models"
)

// DefaultMaxBytes mirrors the processing service's upload ceiling.
const DefaultMaxBytes = 16 * 1024 * 1024

var (
	ErrNotImage = errors.New("file is not a PNG or JPEG image")
	ErrTooLarge = errors.New("file is too large")
	ErrEmpty    = errors.New("file is empty")
)

// Source is a readable user-supplied file.
type Source interface {
	// Name is the filename as the user supplied it.
	Name() string
	// Preview returns the file as a displayable data URI.
	Preview(ctx context.Context) (string, error)
	// Bytes returns the raw file contents for upload.
	Bytes(ctx context.Context) ([]byte, error)
}

// Memory is a Source backed by an in-memory buffer.
type Memory struct {
	name string
	data []byte
}

// NewMemory returns a Source over data. The slice is copied.
func NewMemory(name string, data []byte) *Memory {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Memory{name: name, data: buf}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Preview(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return DataURI(http.DetectContentType(m.data), m.data), nil
}

func (m *Memory) Bytes(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.data, nil
}

// Disk is a Source that reads a local file each time it is asked.
type Disk struct {
	path     string
	maxBytes int64
}

// NewDisk returns a Source reading path, refusing files larger than maxBytes.
func NewDisk(path string, maxBytes int64) *Disk {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Disk{path: path, maxBytes: maxBytes}
}

func (d *Disk) Name() string { return filepath.Base(d.path) }

func (d *Disk) Preview(ctx context.Context) (string, error) {
	data, err := d.Bytes(ctx)
	if err != nil {
		return "", err
	}
	return DataURI(http.DetectContentType(data), data), nil
}

func (d *Disk) Bytes(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.path, err)
	}
	defer f.Close()
	return readLimited(f, d.maxBytes)
}

// FromMultipart reads an uploaded form file into memory.
func FromMultipart(fh *multipart.FileHeader, maxBytes int64) (*Memory, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if fh.Size > maxBytes {
		return nil, fmt.Errorf("%w (max %d bytes)", ErrTooLarge, maxBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer f.Close()

	data, err := readLimited(f, maxBytes)
	if err != nil {
		return nil, err
	}
	return &Memory{name: fh.Filename, data: data}, nil
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (max %d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// Inspect validates that src holds a PNG or JPEG image and describes it.
func Inspect(ctx context.Context, src Source) (*models.FileItem, error) {
	data, err := src.Bytes(ctx)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	contentType := http.DetectContentType(data)
	if contentType != "image/png" && contentType != "image/jpeg" {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotImage, src.Name(), contentType)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotImage, src.Name(), err)
	}

	preview, err := src.Preview(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build preview: %w", err)
	}

	return &models.FileItem{
		Name:        src.Name(),
		Size:        int64(len(data)),
		ContentType: contentType,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Preview:     preview,
	}, nil
}

// DataURI encodes data as a base64 data URI.
func DataURI(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI unwraps a base64 data URI into its media type and payload.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URI")
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("data URI is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode data URI: %w", err)
	}
	return mediaType, data, nil
}
