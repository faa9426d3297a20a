package batch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "iati-import-service/pkg/errors"

	"iati-import-service/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := DefaultConfig()
	config.BaseURL = server.URL
	config.PollInterval = 10 * time.Millisecond
	config.PollTimeout = 5 * time.Second
	client, err := NewClient(config, nil)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return client
}

func sampleActivities() []*models.ParsedActivity {
	return []*models.ParsedActivity{
		{IATIIdentifier: "XM-1", Title: "Water"},
		{IATIIdentifier: "XM-2", Title: "Health"},
	}
}

func selectionOf(ids ...string) *models.SelectionSet {
	s := models.NewSelectionSet()
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func TestSubmit(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/iati/import-batches" {
			t.Errorf("path = %s", r.URL.Path)
		}

		var req struct {
			IdempotencyKey string                   `json:"idempotencyKey"`
			Activities     []*models.ParsedActivity `json:"activities"`
			Rules          models.ImportRules       `json:"rules"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("request body does not decode: %v", err)
		}
		if req.IdempotencyKey == "" {
			t.Error("expected idempotency key")
		}
		if len(req.Activities) != 1 || req.Activities[0].IATIIdentifier != "XM-1" {
			t.Errorf("unexpected activities %+v", req.Activities)
		}
		if req.Rules.MatchedActivities != models.UpdateExisting {
			t.Errorf("unexpected rules %+v", req.Rules)
		}
		if !req.Rules.AutoMatchOrganizations {
			t.Error("default rules should request automatic organisation matching")
		}

		w.Write([]byte(`{"batchId":"batch-1"}`))
	}))

	batchID, err := client.Submit(context.Background(), sampleActivities(),
		selectionOf("XM-1"), models.DefaultImportRules())
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if batchID != "batch-1" {
		t.Errorf("batchID = %s, want batch-1", batchID)
	}
}

func TestSubmitEmptySelection(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("empty selection must not reach the executor")
	}))

	_, err := client.Submit(context.Background(), sampleActivities(),
		models.NewSelectionSet(), models.DefaultImportRules())
	if err == nil {
		t.Fatal("expected error for empty selection")
	}
}

func TestSubmitInvalidRules(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("invalid rules must not reach the executor")
	}))

	rules := models.ImportRules{MatchedActivities: "bogus", Transactions: models.SkipTransactions}
	_, err := client.Submit(context.Background(), sampleActivities(), selectionOf("XM-1"), rules)
	if err == nil {
		t.Fatal("expected error for invalid rules")
	}
	importErr, ok := apperrors.AsImportError(err)
	if !ok || importErr.Category != apperrors.CategoryValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestWaitForCompletion(t *testing.T) {
	var polls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		status := models.BatchStatus{
			BatchID: "batch-1",
			State:   models.BatchProcessing,
			Total:   2,
		}
		if n >= 3 {
			status.State = models.BatchCompleted
			status.Created = 1
			status.Updated = 1
		}
		json.NewEncoder(w).Encode(status)
	}))

	status, err := client.WaitForCompletion(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("WaitForCompletion() error: %v", err)
	}
	if status.State != models.BatchCompleted {
		t.Errorf("state = %s, want completed", status.State)
	}
	if atomic.LoadInt32(&polls) < 3 {
		t.Errorf("expected at least 3 polls, got %d", polls)
	}
}

func TestWaitForCompletionCountMismatch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.BatchStatus{
			BatchID: "batch-1",
			State:   models.BatchCompleted,
			Total:   5,
			Created: 1,
		})
	}))

	_, err := client.WaitForCompletion(context.Background(), "batch-1")
	if err == nil {
		t.Fatal("expected count mismatch error")
	}
	importErr, ok := apperrors.AsImportError(err)
	if !ok || importErr.Code != apperrors.CodeCountMismatch {
		t.Errorf("expected %s, got %v", apperrors.CodeCountMismatch, err)
	}
}

func TestWaitForCompletionCancellation(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.BatchStatus{
			BatchID: "batch-1",
			State:   models.BatchProcessing,
			Total:   2,
		})
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := client.WaitForCompletion(ctx, "batch-1")
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
}
