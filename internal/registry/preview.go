package registry

import (
	"context"
	"sync"
	"time"

	"iati-import-service/internal/models"
)

// DefaultPreviewDelay is the debounce interval for count previews.
const DefaultPreviewDelay = 500 * time.Millisecond

// Counter is the subset of the registry client the debouncer needs.
type Counter interface {
	CountOrgActivities(ctx context.Context, params FetchParams) (*models.CountPreview, error)
}

// PreviewDebouncer coalesces rapid count-preview requests. Each call to
// Request resets the delay timer; only the latest request survives, and a
// result belonging to a superseded request is discarded even if its call
// was already in flight.
type PreviewDebouncer struct {
	counter Counter
	delay   time.Duration

	mu    sync.Mutex
	seq   uint64
	timer *time.Timer
}

// NewPreviewDebouncer creates a debouncer over the given counter. A
// non-positive delay falls back to the default.
func NewPreviewDebouncer(counter Counter, delay time.Duration) *PreviewDebouncer {
	if delay <= 0 {
		delay = DefaultPreviewDelay
	}
	return &PreviewDebouncer{counter: counter, delay: delay}
}

// Request schedules a count preview for the given params. The callback
// fires at most once, and only if no newer request has been made by the
// time the count returns. Context cancellation suppresses the callback.
func (d *PreviewDebouncer) Request(ctx context.Context, params FetchParams, callback func(*models.CountPreview, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		if !d.isCurrent(seq) {
			return
		}
		preview, err := d.counter.CountOrgActivities(ctx, params)
		if !d.isCurrent(seq) {
			return
		}
		if ctx.Err() != nil {
			return
		}
		callback(preview, err)
	})
}

// Cancel drops any pending request without firing its callback.
func (d *PreviewDebouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *PreviewDebouncer) isCurrent(seq uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq == seq
}
