package syncclient

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Poller fetches claim status on a fixed interval and hands each
// snapshot to a callback, typically PageState.Merge. Ticks are skipped
// while the page is hidden; polling resumes on the next tick after
// SetVisible(true).
type Poller struct {
	client    *Client
	receiptID string
	interval  time.Duration
	visible   atomic.Bool
	onStatus  func(*Status)
	onError   func(error)
}

// NewPoller creates a poller that starts visible.
func NewPoller(client *Client, receiptID string, interval time.Duration, onStatus func(*Status)) *Poller {
	p := &Poller{
		client:    client,
		receiptID: receiptID,
		interval:  interval,
		onStatus:  onStatus,
	}
	p.visible.Store(true)
	return p
}

// OnError registers a callback for failed polls. Without one,
// failures are logged and the poller keeps going; a transient network
// error should not kill the page.
func (p *Poller) OnError(fn func(error)) {
	p.onError = fn
}

// SetVisible pauses or resumes polling. Safe to call from another
// goroutine, which is where visibility signals come from.
func (p *Poller) SetVisible(v bool) {
	p.visible.Store(v)
}

// Run polls immediately and then on every interval tick until the
// context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if p.visible.Load() {
		p.poll(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !p.visible.Load() {
				continue
			}
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	status, err := p.client.FetchStatus(ctx, p.receiptID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if p.onError != nil {
			p.onError(err)
			return
		}
		slog.Warn("Status poll failed", "receipt_id", p.receiptID, "error", err)
		return
	}
	p.onStatus(status)
}
