package preflight

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/embed"
)

// embedProbeTimeout bounds the service health probe.
const embedProbeTimeout = 5 * time.Second

// CheckEmbedService probes the embedding sidecar's health endpoint.
// Never required: with an explicit colpali provider the engine refuses
// to construct anyway, and in auto-detect mode an unreachable service
// just demotes to the static provider.
func (c *Checker) CheckEmbedService(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{
		Name:     "embed_service",
		Required: false,
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Embedding.Provider))
	if provider == string(embed.ProviderStatic) {
		result.Status = StatusPass
		result.Message = "static provider, no service needed"
		return result
	}
	if provider == "" && cfg.Embedding.ServiceURL == "" {
		result.Status = StatusPass
		result.Message = "no service URL, auto-detect resolves to static"
		return result
	}

	explicit := provider == string(embed.ProviderColPali)
	url := strings.TrimSuffix(cfg.Embedding.ServiceURL, "/") + "/health"

	probeCtx, cancel := context.WithTimeout(ctx, embedProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("bad service URL: %v", err)
		return result
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("unreachable: %v", err)
		if explicit {
			result.Status = StatusFail
			result.Details = "Provider is colpali, serve will refuse to start"
		} else {
			result.Details = "Auto-detect will fall back to the static provider"
		}
		return result
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("unhealthy (HTTP %d)", resp.StatusCode)
		return result
	}

	result.Status = StatusPass
	result.Message = url
	return result
}

// CheckDevice resolves the configured inference device through the
// mps -> cuda -> cpu fallback chain. Informational: cpu always resolves.
func (c *Checker) CheckDevice(requested string) CheckResult {
	result := CheckResult{
		Name:     "device",
		Required: false,
	}

	resolved := embed.ResolveDevice(requested, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if requested == "" {
		requested = string(embed.DeviceCPU)
	}
	if string(resolved) == strings.ToLower(requested) {
		result.Status = StatusPass
		result.Message = string(resolved)
		return result
	}

	result.Status = StatusWarn
	result.Message = fmt.Sprintf("%s unavailable, using %s", requested, resolved)
	return result
}
