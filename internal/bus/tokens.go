package bus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spotiduck/spotiduck/pkg/model"
)

// refreshWait caps how long a Refresh call waits for the resulting
// tokenRefreshed broadcast before giving up.
const refreshWait = 10 * time.Second

// TokenSource adapts the bus to the trigger's token interface. Token is
// a plain request/response; Refresh sends the fire-and-forget refresh
// request and then waits for the broadcast that a successful refresh
// fans out.
type TokenSource struct {
	client *Client
	logger *zap.Logger

	mu      sync.Mutex
	waiters []chan struct{}
}

func NewTokenSource(client *Client, logger *zap.Logger) *TokenSource {
	ts := &TokenSource{
		client: client,
		logger: logger,
	}
	client.Handle(model.ActionTokenRefreshed, ts.onRefreshed)
	return ts
}

func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	return ts.client.RequestToken(ctx)
}

func (ts *TokenSource) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, refreshWait)
	defer cancel()

	ready := make(chan struct{})
	ts.mu.Lock()
	ts.waiters = append(ts.waiters, ready)
	ts.mu.Unlock()

	if err := ts.client.NotifyRefresh(); err != nil {
		return err
	}

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		ts.logger.Warn("timed out waiting for refreshed token")
		return ctx.Err()
	}
}

func (ts *TokenSource) onRefreshed(model.Message) {
	ts.mu.Lock()
	waiters := ts.waiters
	ts.waiters = nil
	ts.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}
