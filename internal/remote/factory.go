package remote

import (
	"fmt"
	"time"

	"tt-go/internal/config"
	"tt-go/internal/track"
)

// NewRemoteFromConfig creates a Remote implementation based on the remote config type.
func NewRemoteFromConfig(cfg config.RemoteConfig, deviceID string) (track.Remote, error) {
	switch cfg.Type {
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("base_url required for http remote")
		}
		return NewHTTPRemote(cfg.BaseURL, deviceID, time.Duration(cfg.TimeoutSeconds)*time.Second), nil
	case "memory":
		return NewMemoryRemote(), nil
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
}
