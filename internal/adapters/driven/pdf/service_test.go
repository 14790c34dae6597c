package pdf

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
)

func TestServiceNormaliser_Normalise(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/parse" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "%PDF-1.7 fake" {
			t.Errorf("unexpected body: %q", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"text":  "  Hello from PDF\n",
			"pages": 1,
		})
	}))
	defer server.Close()

	n := NewServiceNormaliser(server.URL + "/")
	text, err := n.Normalise(context.Background(), []byte("%PDF-1.7 fake"), ".pdf")
	if err != nil {
		t.Fatalf("Normalise failed: %v", err)
	}
	if text != "Hello from PDF" {
		t.Errorf("unexpected text: %q", text)
	}
}

func TestServiceNormaliser_ServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "parsing failed",
		})
	}))
	defer server.Close()

	n := NewServiceNormaliser(server.URL)
	if _, err := n.Normalise(context.Background(), []byte("bad"), ".pdf"); err == nil {
		t.Error("should error on parse failure")
	}
}

func TestServiceNormaliser_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	n := NewServiceNormaliser(url)
	_, err := n.Normalise(context.Background(), []byte("x"), ".pdf")
	if !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Errorf("expected ErrServiceUnavailable, got %v", err)
	}
	if err := n.HealthCheck(context.Background()); !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Errorf("expected ErrServiceUnavailable from health check, got %v", err)
	}
}

func TestServiceNormaliser_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := NewServiceNormaliser(server.URL).HealthCheck(context.Background()); err != nil {
		t.Errorf("expected healthy service, got %v", err)
	}
}

func TestServiceNormaliser_Metadata(t *testing.T) {
	n := NewServiceNormaliser("")
	if exts := n.SupportedExtensions(); len(exts) != 1 || exts[0] != ".pdf" {
		t.Errorf("should support only .pdf, got %v", exts)
	}
	if n.serviceURL != defaultServiceURL {
		t.Errorf("expected default URL, got %s", n.serviceURL)
	}
}
