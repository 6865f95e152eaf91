package models

import (
	"fmt"
	"strings"
)

// Target describes the remote content platform the migration writes to.
type Target struct {
	Name      string `json:"name"`
	Scheme    string `json:"scheme"` // "http" or "https"
	Host      string `json:"host"`
	Port      int    `json:"port"`
	APIPrefix string `json:"api_prefix"` // e.g. "/wp-json/wp/v2/"
	Token     string `json:"-"`
	Insecure  bool   `json:"insecure"` // skip TLS verification
	CACert    string `json:"-"`
}

// BaseURL returns the full base URL for this target.
func (t *Target) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", t.Scheme, t.Host, t.Port)
}

// SiteURL returns the public site URL, omitting default ports.
func (t *Target) SiteURL() string {
	if (t.Scheme == "https" && t.Port == 443) || (t.Scheme == "http" && t.Port == 80) || t.Port == 0 {
		return fmt.Sprintf("%s://%s", t.Scheme, t.Host)
	}
	return t.BaseURL()
}

// Prefix returns the API prefix with exactly one leading and trailing slash.
func (t *Target) Prefix() string {
	p := strings.Trim(t.APIPrefix, "/")
	if p == "" {
		return "/"
	}
	return "/" + p + "/"
}

// MaskedToken returns a masked version of the bearer token for display.
func (t *Target) MaskedToken() string {
	if t.Token == "" {
		return ""
	}
	return "••••••••"
}
