package parse

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	perrors "github.com/petrel-search/petrel/internal/errors"
)

// Sidecar parser defaults.
const (
	// DefaultServiceTimeout bounds one document parse. Rendering a long
	// PDF to page rasters dominates; transcribing audio can take longer
	// still, so deployments with audio raise this.
	DefaultServiceTimeout = 60 * time.Second

	serviceParsePath  = "/parse"
	serviceHealthPath = "/health"

	servicePoolSize = 4
)

// ServiceConfig holds configuration for the sidecar parser client.
type ServiceConfig struct {
	// URL is the sidecar base address (PARSER_SERVICE_URL).
	URL string

	// Timeout bounds one parse request end to end.
	Timeout time.Duration

	// RenderDPI, ChunkSize, and ChunkOverlap are forwarded so the
	// sidecar renders and chunks with the same settings the builtins use.
	RenderDPI    int
	ChunkSize    int
	ChunkOverlap int
}

// ServiceParser parses heavyweight formats through an HTTP sidecar that
// renders page rasters and extracts text. PDF and Office documents come
// back as pages plus chunks; audio comes back as transcript chunks only.
type ServiceParser struct {
	client *http.Client
	cfg    ServiceConfig
	logger *slog.Logger
}

var _ Parser = (*ServiceParser)(nil)

// NewServiceParser creates a sidecar parser client. The service is not
// probed here; health is checked by preflight and surfaces per request
// otherwise.
func NewServiceParser(cfg ServiceConfig, logger *slog.Logger) *ServiceParser {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultServiceTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	// No http.Client.Timeout: the per-request context bounds each parse
	// and would otherwise be capped by a single client-wide value.
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        servicePoolSize,
			MaxIdleConnsPerHost: servicePoolSize,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	return &ServiceParser{client: client, cfg: cfg, logger: logger}
}

func (p *ServiceParser) Name() string { return "service" }

func (p *ServiceParser) Extensions() []string {
	return []string{".pdf", ".docx", ".pptx", ".xlsx", ".mp3", ".wav"}
}

// serviceParseRequest is the wire request. Source bytes travel base64
// encoded; zero-valued options let the sidecar apply its own defaults.
type serviceParseRequest struct {
	Filename     string `json:"filename"`
	Content      string `json:"content"`
	RenderDPI    int    `json:"render_dpi,omitempty"`
	ChunkSize    int    `json:"chunk_size,omitempty"`
	ChunkOverlap int    `json:"chunk_overlap,omitempty"`
}

type servicePage struct {
	Number int    `json:"number"`
	Image  string `json:"image"` // base64 PNG
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type serviceChunk struct {
	Index      int    `json:"index"`
	PageNumber int    `json:"page_number,omitempty"`
	Text       string `json:"text"`
	Tag        string `json:"tag,omitempty"`
}

type serviceParseResponse struct {
	Pages  []servicePage  `json:"pages"`
	Chunks []serviceChunk `json:"chunks"`
	Title  string         `json:"title,omitempty"`
	Format string         `json:"format,omitempty"`
}

type serviceHealthResponse struct {
	Status  string   `json:"status"`
	Formats []string `json:"formats,omitempty"`
}

// Parse posts the document to the sidecar and normalizes its response.
// Transport failures and 5xx responses are transient (the stage budget
// retries them); 4xx responses mean the document itself was rejected.
func (p *ServiceParser) Parse(ctx context.Context, path string, data []byte) (*Document, error) {
	reqBody := serviceParseRequest{
		Filename:     filepath.Base(path),
		Content:      base64.StdEncoding.EncodeToString(data),
		RenderDPI:    p.cfg.RenderDPI,
		ChunkSize:    p.cfg.ChunkSize,
		ChunkOverlap: p.cfg.ChunkOverlap,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal parse request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.cfg.URL+serviceParsePath, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create parse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, perrors.ParserUnavailable("parser service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("parser service status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, perrors.ParseError(msg, nil)
		}
		return nil, perrors.ParserUnavailable(msg, nil)
	}

	var parsed serviceParseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, perrors.ParserUnavailable("decode parser response", err)
	}

	doc, err := parsed.toDocument()
	if err != nil {
		return nil, perrors.ParseError(err.Error(), err)
	}

	p.logger.Debug("service_parse_completed",
		slog.String("filename", reqBody.Filename),
		slog.Int("pages", len(doc.Pages)),
		slog.Int("chunks", len(doc.Chunks)),
		slog.Duration("elapsed", time.Since(start)))

	return doc, nil
}

// HealthCheck probes the sidecar's health endpoint.
func (p *ServiceParser) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL+serviceHealthPath, nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("parser service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("parser service unhealthy (status %d)", resp.StatusCode)
	}

	var health serviceHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("parser service status: %s", health.Status)
	}
	return nil
}

// Close releases idle connections.
func (p *ServiceParser) Close() error {
	if transport, ok := p.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

// toDocument normalizes the wire response: page images decoded and
// renumbered densely, chunks reindexed densely with unknown tags folded
// to paragraph. The sidecar's numbering is advisory; ours is the
// contract the store relies on.
func (r *serviceParseResponse) toDocument() (*Document, error) {
	doc := &Document{
		Meta: DocMeta{Title: r.Title, Format: r.Format},
	}

	for i, pg := range r.Pages {
		img, err := base64.StdEncoding.DecodeString(pg.Image)
		if err != nil {
			return nil, fmt.Errorf("page %d image: %w", i+1, err)
		}
		if len(img) == 0 {
			return nil, fmt.Errorf("page %d image is empty", i+1)
		}
		doc.Pages = append(doc.Pages, Page{
			Number: i + 1,
			Image:  img,
			Format: "png",
			Width:  pg.Width,
			Height: pg.Height,
		})
	}

	for _, ch := range r.Chunks {
		text := collapseSpace(ch.Text)
		if text == "" {
			continue
		}
		page := ch.PageNumber
		if page < 0 {
			page = 0
		}
		doc.Chunks = append(doc.Chunks, Chunk{
			Index:      len(doc.Chunks),
			PageNumber: page,
			Text:       text,
			Tag:        normalizeTag(ch.Tag),
		})
	}

	return doc, nil
}

// normalizeTag folds unknown sidecar tags to paragraph.
func normalizeTag(s string) Tag {
	switch t := Tag(s); t {
	case TagParagraph, TagHeading, TagTableCell, TagCaption, TagTranscriptLine:
		return t
	default:
		return TagParagraph
	}
}
