package server

import (
	"context"
	"sync"
	"time"

	"iati-import-service/internal/models"
	"iati-import-service/internal/registry"
)

// countDebounce funnels one session's count previews through a debouncer.
// Rapid parameter changes collapse into a single registry call; every
// caller still waiting receives the surviving request's result.
type countDebounce struct {
	debouncer *registry.PreviewDebouncer

	mu      sync.Mutex
	waiters []chan countResult
}

type countResult struct {
	preview *models.CountPreview
	err     error
}

func newCountDebounce(counter registry.Counter, delay time.Duration) *countDebounce {
	return &countDebounce{debouncer: registry.NewPreviewDebouncer(counter, delay)}
}

// Count schedules a debounced count and blocks until the latest scheduled
// request resolves or the context ends. A superseded caller receives the
// superseding request's result rather than its own.
func (d *countDebounce) Count(ctx context.Context, params registry.FetchParams) (*models.CountPreview, error) {
	ch := make(chan countResult, 1)
	d.mu.Lock()
	d.waiters = append(d.waiters, ch)
	d.mu.Unlock()

	d.debouncer.Request(ctx, params, func(preview *models.CountPreview, err error) {
		d.mu.Lock()
		waiters := d.waiters
		d.waiters = nil
		d.mu.Unlock()
		for _, w := range waiters {
			w <- countResult{preview: preview, err: err}
		}
	})

	select {
	case res := <-ch:
		return res.preview, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
