// Package registry talks to the service registry: it advertises this node
// on a fixed interval and receives the token verification key in return.
package registry

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hiccup-im/media-signal/internal/auth"
)

const registerServiceMutation = `mutation RegisterService($category: String!, $info: ServiceInfoInputType!) {
    registerService(category: $category, serviceInfo: $info) {
        publicKey
    }
}`

type ServiceInfo struct {
	ID         string   `json:"id"`
	IP         string   `json:"ip"`
	Hostname   string   `json:"hostname"`
	Port       int      `json:"port"`
	LoadFactor float64  `json:"loadFactor"`
	Tags       []string `json:"tags"`
}

type Client struct {
	url          string
	serviceToken string
	info         ServiceInfo
	keys         *auth.KeySource
	http         *http.Client
}

func NewClient(url, serviceToken string, info ServiceInfo, keys *auth.KeySource) *Client {
	return &Client{
		url:          url,
		serviceToken: serviceToken,
		info:         info,
		keys:         keys,
		http:         &http.Client{Timeout: 10 * time.Second},
	}
}

// Run registers immediately, then re-registers on the interval until ctx is
// done. A failed attempt logs a warning and waits for the next tick; it
// never takes the process down.
func (c *Client) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := c.register(ctx); err != nil {
			log.Warn().Err(err).Str("module", "registry").Msg("failed to register service")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) register(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"query": registerServiceMutation,
		"variables": map[string]any{
			"category": "media",
			"info":     c.info,
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hiccup-ServiceToken", c.serviceToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry status %d", resp.StatusCode)
	}

	var out struct {
		Data struct {
			RegisterService struct {
				PublicKey string `json:"publicKey"`
			} `json:"registerService"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode registry response: %w", err)
	}
	if len(out.Errors) > 0 {
		return fmt.Errorf("registry error: %s", out.Errors[0].Message)
	}

	raw, err := hex.DecodeString(out.Data.RegisterService.PublicKey)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("registry returned invalid public key")
	}
	c.keys.Set(ed25519.PublicKey(raw))
	log.Info().Str("module", "registry").Str("service", c.info.ID).Msg("service registered")
	return nil
}
