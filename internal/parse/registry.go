package parse

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// extensionMIME supplies types the platform mime database may lack.
var extensionMIME = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".adoc":     "text/asciidoc",
	".asciidoc": "text/asciidoc",
	".vtt":      "text/vtt",
	".csv":      "text/csv",
	".tsv":      "text/tab-separated-values",
	".pdf":      "application/pdf",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".pptx":     "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".xlsx":     "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".mp3":      "audio/mpeg",
	".wav":      "audio/wav",
	".webp":     "image/webp",
	".tiff":     "image/tiff",
	".tif":      "image/tiff",
	".bmp":      "image/bmp",
}

// MIMEForExtension resolves a dotted extension to a MIME type,
// consulting the platform database first and stripping any charset
// parameter it appends.
func MIMEForExtension(ext string) string {
	ext = strings.ToLower(ext)
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.Index(t, ";"); i >= 0 {
			t = strings.TrimSpace(t[:i])
		}
		return t
	}
	return extensionMIME[ext]
}

// Options configures the builtin parser set.
type Options struct {
	// ChunkSize and ChunkOverlap set the word chunker's window
	// (TEXT_CHUNK_SIZE, TEXT_CHUNK_OVERLAP). Zero values use defaults.
	ChunkSize    int
	ChunkOverlap int

	// ServiceURL enables the sidecar parser for heavyweight formats
	// when non-empty (PARSER_SERVICE_URL).
	ServiceURL     string
	ServiceTimeout time.Duration

	// RenderDPI is forwarded to the sidecar for page rasterization.
	RenderDPI int

	Logger *slog.Logger
}

// Registry routes files to parsers by extension.
type Registry struct {
	mu      sync.RWMutex
	byExt   map[string]Parser
	service *ServiceParser
}

// NewRegistry creates a registry with the builtin parsers registered.
// The sidecar parser joins only when a service URL is configured;
// without one, pdf/docx/pptx/xlsx/mp3/wav simply have no parser and
// fail upload validation upstream.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := newChunker(opts.ChunkSize, opts.ChunkOverlap)

	r := &Registry{byExt: make(map[string]Parser)}
	r.Register(newTextParser(c))
	r.Register(newMarkdownParser(c))
	r.Register(newAsciiDocParser(c))
	r.Register(newCSVParser())
	r.Register(newHTMLParser(c))
	r.Register(newVTTParser())
	r.Register(newImageParser())

	if opts.ServiceURL != "" {
		sp := NewServiceParser(ServiceConfig{
			URL:          opts.ServiceURL,
			Timeout:      opts.ServiceTimeout,
			RenderDPI:    opts.RenderDPI,
			ChunkSize:    opts.ChunkSize,
			ChunkOverlap: opts.ChunkOverlap,
		}, opts.Logger)
		r.Register(sp)
		r.service = sp
	}

	return r
}

// Register adds a parser, claiming all its extensions. Later
// registrations win per extension, so a sidecar can take over a format
// a builtin also claims.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range p.Extensions() {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.byExt[ext] = p
	}
}

// For returns the parser claiming the path's extension.
func (r *Registry) For(path string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return p, ok
}

// Parse routes the file to its parser and fills in metadata the parser
// left empty: the canonical format from the extension and the MIME type.
func (r *Registry) Parse(ctx context.Context, path string, data []byte) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, ok := r.For(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
	}

	doc, err := p.Parse(ctx, path, data)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if doc.Meta.Format == "" {
		doc.Meta.Format = strings.TrimPrefix(ext, ".")
	}
	if doc.Meta.MIME == "" {
		doc.Meta.MIME = MIMEForExtension(ext)
	}
	return doc, nil
}

// Extensions returns all registered extensions, dotted and sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Service returns the sidecar parser when one is configured, for health
// checks at preflight.
func (r *Registry) Service() (*ServiceParser, bool) {
	return r.service, r.service != nil
}

// Close releases parser resources. Only the sidecar client holds any.
func (r *Registry) Close() error {
	if r.service != nil {
		return r.service.Close()
	}
	return nil
}
