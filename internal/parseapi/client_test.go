package parseapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "iati-import-service/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := DefaultConfig()
	config.BaseURL = server.URL
	client, err := NewClient(config, nil)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return client, server
}

func TestParseXMLSuccess(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/iati/parse" {
			t.Errorf("path = %s", r.URL.Path)
		}

		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("request body does not decode: %v", err)
		}
		if !strings.Contains(req["xmlContent"], "iati-activities") {
			t.Errorf("unexpected xmlContent %q", req["xmlContent"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"activities":[{"iatiIdentifier":"XM-1","title":"Water"},{"iatiIdentifier":"XM-2","title":"Health"}]}`))
	})

	activities, err := client.ParseXML(context.Background(), "<iati-activities/>")
	if err != nil {
		t.Fatalf("ParseXML() error: %v", err)
	}
	if len(activities) != 2 {
		t.Fatalf("expected 2 activities, got %d", len(activities))
	}
	if activities[0].IATIIdentifier != "XM-1" {
		t.Errorf("first identifier = %s", activities[0].IATIIdentifier)
	}
}

func TestParseXMLServerErrorSurfacedVerbatim(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Invalid XML: mismatched tag at line 12"}`))
	})

	_, err := client.ParseXML(context.Background(), "<broken>")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "mismatched tag at line 12") {
		t.Errorf("server message not surfaced: %v", err)
	}

	importErr, ok := apperrors.AsImportError(err)
	if !ok {
		t.Fatalf("expected ImportError, got %T", err)
	}
	if importErr.Category != apperrors.CategoryParse {
		t.Errorf("category = %s, want %s", importErr.Category, apperrors.CategoryParse)
	}
}

func TestParseXMLZeroActivities(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"activities":[]}`))
	})

	_, err := client.ParseXML(context.Background(), "<iati-activities/>")
	if err == nil {
		t.Fatal("expected error for empty result")
	}
	importErr, ok := apperrors.AsImportError(err)
	if !ok {
		t.Fatalf("expected ImportError, got %T", err)
	}
	if importErr.Code != apperrors.CodeNoActivities {
		t.Errorf("code = %s, want %s", importErr.Code, apperrors.CodeNoActivities)
	}
}

func TestParseXMLEmptyContent(t *testing.T) {
	client, err := NewClient(nil, nil)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	if _, err := client.ParseXML(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestParseXMLContextCancellation(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.ParseXML(ctx, "<iati-activities/>"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestNewClientInvalidConfig(t *testing.T) {
	_, err := NewClient(&Config{BaseURL: ""}, nil)
	if err == nil {
		t.Fatal("expected error for missing base URL")
	}
}
