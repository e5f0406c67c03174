package pipeline

import (
	"fmt"
	"time"

	"github.com/kiranshivaraju/renderq/internal/config"
)

// New constructs the pipeline named by cfg.Provider. Called once at
// startup.
func New(cfg config.RendererConfig, callTimeout time.Duration) (Pipeline, error) {
	switch cfg.Provider {
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("RENDERER_BASE_URL is required for the http render provider")
		}
		return NewHTTPClient(cfg.BaseURL, callTimeout), nil
	default:
		return nil, fmt.Errorf("unknown render provider %q: must be http", cfg.Provider)
	}
}
