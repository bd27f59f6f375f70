package signing

import (
	"context"
	"time"

	"github.com/iliyamo/care-portal/internal/audit"
	"github.com/iliyamo/care-portal/internal/logging"
	"github.com/iliyamo/care-portal/internal/model"
)

// reconcilerClient marks audit entries written by the sweep.
var reconcilerClient = audit.ClientInfo{IP: "system", UserAgent: "expiry-reconciler"}

// ExpireStale expires up to limit open requests whose deadline has passed
// and returns how many it moved. It applies the same transition and audit
// entry as an access after the deadline.
func (s *Service) ExpireStale(ctx context.Context, limit int) (int, error) {
	now := s.now()
	stale, err := s.requests.ListExpirable(ctx, now, limit)
	if err != nil {
		return 0, storageErr("list expirable", err)
	}
	n := 0
	for _, sr := range stale {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		_ = s.expire(ctx, sr, now, reconcilerClient)
		if sr.Status == model.StatusExpired {
			n++
		}
	}
	return n, nil
}

// Reconciler periodically sweeps requests left open past their deadline.
// Access-time expiry stays authoritative; the sweep only keeps listings
// honest for requests nobody revisits. An interval of 0 disables it.
type Reconciler struct {
	svc      *Service
	interval time.Duration
	batch    int
	log      logging.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewReconciler creates a reconciler but does not start it.
func NewReconciler(svc *Service, interval time.Duration, batch int, log logging.Logger) *Reconciler {
	if batch <= 0 {
		batch = 200
	}
	return &Reconciler{svc: svc, interval: interval, batch: batch, log: log, done: make(chan struct{})}
}

// Start runs one sweep immediately and then one per interval until ctx is
// cancelled or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	if r.interval <= 0 {
		r.log.Info(ctx, "expiry reconciler disabled")
		close(r.done)
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)
	r.log.Info(ctx, "expiry reconciler started", "interval", r.interval.String())
}

// Stop signals the loop to exit and waits for it.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	n, err := r.svc.ExpireStale(ctx, r.batch)
	if err != nil {
		r.log.Error(ctx, "expiry sweep failed", "error", err)
		return
	}
	if n > 0 {
		r.log.Info(ctx, "expiry sweep", "expired", n)
	}
}
