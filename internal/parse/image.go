package parse

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"path/filepath"

	// Decoders consulted by image.DecodeConfig.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// imageParser validates a raster and passes the original bytes through
// as a single page with zero chunks. Images carry no extractable text;
// the visual embedding is their whole index entry. DecodeConfig reads
// only the header, so validation never decodes pixel data.
type imageParser struct{}

func newImageParser() *imageParser { return &imageParser{} }

func (p *imageParser) Name() string { return "image" }

func (p *imageParser) Extensions() []string {
	return []string{".png", ".jpg", ".jpeg", ".tiff", ".tif", ".bmp", ".webp"}
}

func (p *imageParser) Parse(_ context.Context, path string, data []byte) (*Document, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	return &Document{
		Pages: []Page{{
			Number: 1,
			Image:  data,
			Format: format,
			Width:  cfg.Width,
			Height: cfg.Height,
		}},
		Meta: DocMeta{Format: format, MIME: "image/" + format},
	}, nil
}
