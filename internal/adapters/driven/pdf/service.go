// Package pdf extracts text from PDF files through an external extraction service.
package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.Normaliser = (*ServiceNormaliser)(nil)

const (
	defaultServiceURL = "http://localhost:8081"
	maxResponseBytes  = 32 << 20
)

// ServiceNormaliser posts PDF bytes to an extraction service and returns the text.
//
// The service accepts POST /parse with the raw file as the body and answers
// {"text": "...", "pages": n} or {"error": "..."}.
type ServiceNormaliser struct {
	serviceURL string
	client     *http.Client
}

// NewServiceNormaliser creates a PDF normaliser for the given service URL.
func NewServiceNormaliser(serviceURL string) *ServiceNormaliser {
	if serviceURL == "" {
		serviceURL = defaultServiceURL
	}
	return &ServiceNormaliser{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type parseResponse struct {
	Text    string `json:"text"`
	Pages   int    `json:"pages"`
	Library string `json:"library,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Normalise extracts the text of a PDF.
func (p *ServiceNormaliser) Normalise(ctx context.Context, raw []byte, ext string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serviceURL+"/parse", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling PDF service: %w: %v", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var result parseResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("PDF parse error: %s", result.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("PDF service returned status %d", resp.StatusCode)
	}

	return strings.TrimSpace(result.Text), nil
}

// SupportedExtensions returns the extensions this normaliser handles.
func (p *ServiceNormaliser) SupportedExtensions() []string {
	return []string{".pdf"}
}

// Priority returns 80 - format-specific.
func (p *ServiceNormaliser) Priority() int {
	return 80
}

// HealthCheck verifies the extraction service is reachable.
func (p *ServiceNormaliser) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serviceURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", domain.ErrServiceUnavailable, resp.StatusCode)
	}
	return nil
}
