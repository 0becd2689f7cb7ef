package webhook

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultAllowedOrigin   = "http://localhost:3000"
	defaultSignatureHeader = "X-Shopify-Hmac-Sha256"
	defaultAdminJWTIssuer  = "loyaltyd"
	defaultRequestTimeout  = 3 * time.Second
)

// Config aggregates runtime settings for the HTTP ingress.
type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	WebhookSecret   string
	SignatureHeader string
	AdminJWTSecret  string
	AdminJWTIssuer  string
	RequestTimeout  time.Duration
}

// Validate ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.SignatureHeader = defaultIfEmpty(cfg.SignatureHeader, defaultSignatureHeader)
	cfg.AdminJWTIssuer = defaultIfEmpty(cfg.AdminJWTIssuer, defaultAdminJWTIssuer)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return fmt.Errorf("webhook secret is required")
	}
	if strings.TrimSpace(cfg.AdminJWTSecret) == "" {
		return fmt.Errorf("admin jwt secret is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
