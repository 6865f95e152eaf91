package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rflorenc/content-migration-workbench/internal/models"
)

// RootPath is the REST index of a WordPress-style site.
const RootPath = "/wp-json/"

// preferredNamespace is the core content namespace.
const preferredNamespace = "wp/v2"

// APIRootResponse holds the parsed REST index response.
// Format: {"name": "...", "url": "https://...", "namespaces": ["oembed/1.0", "wp/v2"], ...}
type APIRootResponse struct {
	Name       string   `json:"name"`
	URL        string   `json:"url"`
	Namespaces []string `json:"namespaces"`
}

// ParseAPIRoot parses the REST index response body.
func ParseAPIRoot(body []byte) (*APIRootResponse, error) {
	var resp APIRootResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing API root response: %w", err)
	}
	if len(resp.Namespaces) == 0 {
		return nil, fmt.Errorf("API root response lists no namespaces")
	}
	return &resp, nil
}

// DetectAPIPrefix determines the API prefix from the parsed REST index.
// The core "wp/v2" namespace wins; otherwise the first versioned namespace
// is used. Returns empty string if detection fails.
func DetectAPIPrefix(root *APIRootResponse) string {
	if root == nil {
		return ""
	}
	for _, ns := range root.Namespaces {
		if ns == preferredNamespace {
			return RootPath + ns + "/"
		}
	}
	for _, ns := range root.Namespaces {
		ns = strings.Trim(ns, "/")
		if strings.Contains(ns, "/v") {
			return RootPath + ns + "/"
		}
	}
	return ""
}

// Discover calls the REST index to detect the API prefix and stores it on
// the target. Discovery is best-effort: failures are logged and the
// configured prefix is kept.
func Discover(ctx context.Context, client *Client, target *models.Target, logger *slog.Logger) {
	body, err := client.Get(ctx, RootPath, nil)
	if err != nil {
		logger.Warn("discovery: REST index failed", "target", target.Name, "error", err)
		return
	}

	root, err := ParseAPIRoot(body)
	if err != nil {
		logger.Warn("discovery: parse REST index failed", "target", target.Name, "error", err)
		return
	}

	prefix := DetectAPIPrefix(root)
	if prefix == "" {
		logger.Warn("discovery: could not detect API prefix", "target", target.Name)
		return
	}
	if target.APIPrefix != "" && target.Prefix() != prefix {
		logger.Info("discovery: overriding configured API prefix", "configured", target.Prefix(), "detected", prefix)
	}
	target.APIPrefix = prefix
	logger.Info("discovery: detected API prefix", "target", target.Name, "prefix", prefix)
}
