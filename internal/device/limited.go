package device

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Default limits applied by Limited.
const (
	DefaultCommandTimeout = 5 * time.Second
	DefaultRateLimitRPS   = 20.0
)

// Limited wraps a Transport with a request rate limit and a per-call
// timeout so a stuck command cannot stall pulse timing indefinitely.
type Limited struct {
	next    Transport
	limiter *rate.Limiter
	timeout time.Duration
}

// NewLimited creates a Limited transport. Zero values select the defaults.
func NewLimited(next Transport, timeout time.Duration, rps float64) *Limited {
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}
	if rps == 0 {
		rps = DefaultRateLimitRPS
	}

	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		timeout: timeout,
	}
}

// Unwrap returns the wrapped transport.
func (l *Limited) Unwrap() Transport {
	return l.next
}

func (l *Limited) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	return callCtx, cancel, nil
}

func (l *Limited) Query(ctx context.Context, id string) (State, error) {
	callCtx, cancel, err := l.begin(ctx)
	if err != nil {
		return State{}, err
	}
	defer cancel()
	return l.next.Query(callCtx, id)
}

func (l *Limited) Command(ctx context.Context, domain, action string, targets []string, params map[string]any) error {
	callCtx, cancel, err := l.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return l.next.Command(callCtx, domain, action, targets, params)
}

func (l *Limited) CreateSnapshot(ctx context.Context, name string, targets []string) (SnapshotHandle, error) {
	callCtx, cancel, err := l.begin(ctx)
	if err != nil {
		return SnapshotHandle{}, err
	}
	defer cancel()
	return l.next.CreateSnapshot(callCtx, name, targets)
}

func (l *Limited) Restore(ctx context.Context, handle SnapshotHandle) error {
	callCtx, cancel, err := l.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return l.next.Restore(callCtx, handle)
}

// Members forwards group expansion when the wrapped transport supports it.
func (l *Limited) Members(ctx context.Context, id string) ([]string, bool, error) {
	lister, ok := l.next.(GroupLister)
	if !ok {
		return nil, false, nil
	}
	callCtx, cancel, err := l.begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer cancel()
	return lister.Members(callCtx, id)
}
