package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "iati-import-service/pkg/errors"

	"iati-import-service/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := DefaultConfig()
	config.BaseURL = server.URL
	client, err := NewClient(config, nil)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return client
}

const fetchBody = `{
	"activities": [{"iatiIdentifier": "XM-1", "title": "Water"}],
	"total": 1,
	"orgScope": {"reportingOrgRef": "XM-DAC-41114", "organizationName": "UNDP", "organizationId": "undp"}
}`

func TestFetchOrgActivities(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/api/iati/fetch-org-activities" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("organization_id"); got != "undp" {
			t.Errorf("organization_id = %s", got)
		}
		if r.URL.Query().Get("count_only") != "" {
			t.Error("full fetch should not set count_only")
		}
		w.Write([]byte(fetchBody))
	})

	params := FetchParams{OrganizationID: "undp", Country: "MM"}
	result, err := client.FetchOrgActivities(context.Background(), params)
	if err != nil {
		t.Fatalf("FetchOrgActivities() error: %v", err)
	}
	if len(result.Activities) != 1 || result.Total != 1 {
		t.Errorf("unexpected result %+v", result)
	}
	if result.Cached {
		t.Error("first fetch should not be cached")
	}
	if result.OrgScope == nil || result.OrgScope.Name != "UNDP" {
		t.Errorf("unexpected org scope %+v", result.OrgScope)
	}

	// Second call with identical params is served from cache.
	again, err := client.FetchOrgActivities(context.Background(), params)
	if err != nil {
		t.Fatalf("cached fetch error: %v", err)
	}
	if !again.Cached {
		t.Error("second fetch should be cached")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 HTTP call, got %d", calls)
	}

	// ForceRefresh bypasses the cache.
	params.ForceRefresh = true
	if _, err := client.FetchOrgActivities(context.Background(), params); err != nil {
		t.Fatalf("forced fetch error: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected 2 HTTP calls after force refresh, got %d", calls)
	}
}

func TestFetchOrgActivitiesCacheIsolation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fetchBody))
	})

	params := FetchParams{OrganizationID: "undp"}
	first, err := client.FetchOrgActivities(context.Background(), params)
	if err != nil {
		t.Fatalf("FetchOrgActivities() error: %v", err)
	}

	// Mark a match on the first result, as the store does after a fetch.
	first.Activities[0].Matched = true
	first.Activities[0].MatchedActivityID = "local-123"
	first.Activities[0].Title = "mutated"

	second, err := client.FetchOrgActivities(context.Background(), params)
	if err != nil {
		t.Fatalf("cached fetch error: %v", err)
	}
	if !second.Cached {
		t.Fatal("second fetch should be cached")
	}
	if second.Activities[0].Matched || second.Activities[0].MatchedActivityID != "" {
		t.Errorf("cached fetch carries another caller's match marking: %+v", second.Activities[0])
	}
	if second.Activities[0].Title != "Water" {
		t.Errorf("cached fetch title = %q, want %q", second.Activities[0].Title, "Water")
	}

	// Mutating the second copy must not reach a third.
	second.Activities[0].Matched = true
	third, err := client.FetchOrgActivities(context.Background(), params)
	if err != nil {
		t.Fatalf("third fetch error: %v", err)
	}
	if third.Activities[0].Matched {
		t.Error("cache hits must not share activity pointers")
	}
}

func TestFetchOrgActivitiesEmptyResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"activities": [], "total": 0}`))
	})

	_, err := client.FetchOrgActivities(context.Background(), FetchParams{OrganizationID: "ghost"})
	if err == nil {
		t.Fatal("expected error for empty result")
	}
	importErr, ok := apperrors.AsImportError(err)
	if !ok || importErr.Code != apperrors.CodeEmptyResult {
		t.Errorf("expected %s, got %v", apperrors.CodeEmptyResult, err)
	}
}

func TestFetchOrgActivitiesCancellation(t *testing.T) {
	started := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := client.FetchOrgActivities(ctx, FetchParams{OrganizationID: "undp"})
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected error after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not return after cancellation")
	}
}

func TestCountOrgActivities(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("count_only") != "true" {
			t.Error("count call must set count_only=true")
		}
		w.Write([]byte(`{"count": 342, "estimatedSeconds": 18.5}`))
	})

	preview, err := client.CountOrgActivities(context.Background(), FetchParams{OrganizationID: "undp"})
	if err != nil {
		t.Fatalf("CountOrgActivities() error: %v", err)
	}
	if preview.Count != 342 {
		t.Errorf("Count = %d, want 342", preview.Count)
	}
	if preview.EstimatedSeconds != 18.5 {
		t.Errorf("EstimatedSeconds = %f, want 18.5", preview.EstimatedSeconds)
	}
}

type fakeCounter struct {
	mu      sync.Mutex
	calls   []FetchParams
	preview *models.CountPreview
	delay   time.Duration
}

func (f *fakeCounter) CountOrgActivities(ctx context.Context, params FetchParams) (*models.CountPreview, error) {
	f.mu.Lock()
	f.calls = append(f.calls, params)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.preview, nil
}

func (f *fakeCounter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestPreviewDebouncerCoalesces(t *testing.T) {
	counter := &fakeCounter{preview: &models.CountPreview{Count: 10}}
	debouncer := NewPreviewDebouncer(counter, 30*time.Millisecond)

	var mu sync.Mutex
	var results []int
	callback := func(p *models.CountPreview, err error) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, p.Count)
	}

	// Three rapid requests; only the last should reach the counter.
	ctx := context.Background()
	debouncer.Request(ctx, FetchParams{Country: "MM"}, callback)
	debouncer.Request(ctx, FetchParams{Country: "TH"}, callback)
	debouncer.Request(ctx, FetchParams{Country: "KE"}, callback)

	time.Sleep(150 * time.Millisecond)

	if got := counter.callCount(); got != 1 {
		t.Errorf("expected 1 counter call, got %d", got)
	}
	counter.mu.Lock()
	if len(counter.calls) == 1 && counter.calls[0].Country != "KE" {
		t.Errorf("expected latest params, got %s", counter.calls[0].Country)
	}
	counter.mu.Unlock()

	mu.Lock()
	if len(results) != 1 {
		t.Errorf("expected 1 callback, got %d", len(results))
	}
	mu.Unlock()
}

func TestPreviewDebouncerCancel(t *testing.T) {
	counter := &fakeCounter{preview: &models.CountPreview{Count: 10}}
	debouncer := NewPreviewDebouncer(counter, 30*time.Millisecond)

	fired := make(chan struct{}, 1)
	debouncer.Request(context.Background(), FetchParams{}, func(p *models.CountPreview, err error) {
		fired <- struct{}{}
	})
	debouncer.Cancel()

	select {
	case <-fired:
		t.Fatal("cancelled request should not fire its callback")
	case <-time.After(120 * time.Millisecond):
	}
	if got := counter.callCount(); got != 0 {
		t.Errorf("cancelled request should not reach counter, got %d calls", got)
	}
}

func TestPreviewDebouncerStaleResultDiscarded(t *testing.T) {
	counter := &fakeCounter{preview: &models.CountPreview{Count: 10}, delay: 60 * time.Millisecond}
	debouncer := NewPreviewDebouncer(counter, 10*time.Millisecond)

	var fired int32
	ctx := context.Background()
	debouncer.Request(ctx, FetchParams{Country: "MM"}, func(p *models.CountPreview, err error) {
		atomic.AddInt32(&fired, 1)
	})

	// Let the first request's counter call start, then supersede it.
	time.Sleep(30 * time.Millisecond)
	debouncer.Request(ctx, FetchParams{Country: "TH"}, func(p *models.CountPreview, err error) {
		atomic.AddInt32(&fired, 1)
	})

	time.Sleep(200 * time.Millisecond)

	// The stale in-flight result must be discarded: one callback only.
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Errorf("expected 1 callback, got %d", got)
	}
}

func TestProgressSimulatorPhases(t *testing.T) {
	tests := []struct {
		percent int
		want    FetchPhase
	}{
		{0, PhaseConnecting},
		{10, PhaseConnecting},
		{11, PhaseFetching},
		{60, PhaseFetching},
		{61, PhaseEnriching},
		{85, PhaseEnriching},
		{86, PhaseProcessing},
		{100, PhaseProcessing},
	}
	for _, tt := range tests {
		if got := phaseFor(tt.percent); got != tt.want {
			t.Errorf("phaseFor(%d) = %s, want %s", tt.percent, got, tt.want)
		}
	}
}

func TestProgressSimulatorRunsAndCompletes(t *testing.T) {
	// Calibrate to the 2 second floor so ticks arrive quickly.
	sim := NewProgressSimulator(0)

	var mu sync.Mutex
	var updates []ProgressUpdate
	sim.Start(func(u ProgressUpdate) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})

	time.Sleep(200 * time.Millisecond)
	sim.Complete(func(u ProgressUpdate) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})

	mu.Lock()
	defer mu.Unlock()
	if len(updates) < 2 {
		t.Fatalf("expected several updates, got %d", len(updates))
	}
	for i := 1; i < len(updates); i++ {
		if updates[i].Percent < updates[i-1].Percent {
			t.Errorf("progress went backwards at %d: %d -> %d", i, updates[i-1].Percent, updates[i].Percent)
		}
	}
	last := updates[len(updates)-1]
	if last.Percent != 100 {
		t.Errorf("final percent = %d, want 100", last.Percent)
	}
}

func TestProgressSimulatorStopIsSilent(t *testing.T) {
	sim := NewProgressSimulator(0)
	var count int32
	sim.Start(func(u ProgressUpdate) {
		atomic.AddInt32(&count, 1)
	})
	sim.Stop()
	settled := atomic.LoadInt32(&count)

	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != settled {
		t.Errorf("updates continued after Stop: %d -> %d", settled, got)
	}

	// Complete after Stop must not report 100.
	sim.Complete(func(u ProgressUpdate) {
		t.Error("Complete after Stop should not fire")
	})
}
