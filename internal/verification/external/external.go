// Package external holds the HTTP clients for the two verification
// collaborators: the document-extraction service and the authoritative
// registry. Both speak small JSON APIs; retries and timeouts are owned by the
// verification service, so these clients make exactly one attempt per call.
package external

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"membergate/internal/platform/config"
	"membergate/internal/verification"
	"membergate/pkg/platform/retry"
	"membergate/pkg/platform/sentinel"
)

// HTTPExtractor calls the document-extraction service.
type HTTPExtractor struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPExtractor builds an extractor client against cfg.ExtractorURL.
func NewHTTPExtractor(cfg config.CollaboratorConfig) *HTTPExtractor {
	return &HTTPExtractor{
		baseURL: cfg.ExtractorURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout(cfg)},
	}
}

// Extract submits the raw document and returns the structured fields plus the
// service's confidence score.
func (e *HTTPExtractor) Extract(ctx context.Context, document []byte) (verification.Extraction, error) {
	payload := map[string]string{
		"document": base64.StdEncoding.EncodeToString(document),
	}
	var out struct {
		LegalName      string  `json:"legal_name"`
		RegistryNumber string  `json:"registry_number"`
		CountryCode    string  `json:"country_code"`
		Confidence     float64 `json:"confidence"`
	}
	if err := e.post(ctx, "/v1/extract", payload, &out); err != nil {
		return verification.Extraction{}, err
	}
	return verification.Extraction{
		Fields: verification.ExtractedFields{
			LegalName:      out.LegalName,
			RegistryNumber: out.RegistryNumber,
			CountryCode:    out.CountryCode,
		},
		Confidence: out.Confidence,
	}, nil
}

func (e *HTTPExtractor) post(ctx context.Context, path string, in, out any) error {
	buf, err := json.Marshal(in)
	if err != nil {
		return retry.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// HTTPRegistry calls the authoritative company registry.
type HTTPRegistry struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPRegistry builds a registry client against cfg.RegistryURL.
func NewHTTPRegistry(cfg config.CollaboratorConfig) *HTTPRegistry {
	return &HTTPRegistry{
		baseURL: cfg.RegistryURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout(cfg)},
	}
}

// Lookup fetches the registry's record for one identifier. An identifier the
// registry has never heard of is a permanent miss, not an outage.
func (r *HTTPRegistry) Lookup(ctx context.Context, registryIdentifier, countryCode string) (verification.RegistryRecord, error) {
	u := fmt.Sprintf("%s/v1/entities/%s/%s",
		r.baseURL, url.PathEscape(countryCode), url.PathEscape(registryIdentifier))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return verification.RegistryRecord{}, retry.Permanent(err)
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return verification.RegistryRecord{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return verification.RegistryRecord{}, retry.Permanent(fmt.Errorf("registry entity %s/%s: %w", countryCode, registryIdentifier, sentinel.ErrNotFound))
	}
	if err := statusErr(resp); err != nil {
		return verification.RegistryRecord{}, err
	}

	var out struct {
		OfficialName string `json:"official_name"`
		Active       bool   `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return verification.RegistryRecord{}, err
	}
	return verification.RegistryRecord{OfficialName: out.OfficialName, Active: out.Active}, nil
}

// statusErr classifies non-2xx responses: client errors are permanent, server
// errors are retryable.
func statusErr(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(fmt.Errorf("collaborator rejected request: %s", resp.Status))
	default:
		return fmt.Errorf("collaborator error: %s", resp.Status)
	}
}

func timeout(cfg config.CollaboratorConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return 10 * time.Second
}
