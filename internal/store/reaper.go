package store

import (
	"context"
	"log"
	"time"
)

// Reaper periodically sweeps the store. One long-lived instance per process;
// it never touches files a retrieval holds open (SweepOnce skips them) and
// it is the only deleter that acts without an explicit request.
type Reaper struct {
	Store    *Store
	Interval time.Duration
	MaxAge   time.Duration
	// OnSweep, when set, is called after each sweep with the removal count
	// (metrics hook).
	OnSweep func(removed int)
}

// Run loops until ctx is cancelled. Sweep errors are logged inside SweepOnce
// and never terminate the loop.
func (r *Reaper) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	log.Printf("reaper: started root=%q interval=%s max_age=%s", r.Store.Root(), interval, r.MaxAge)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("reaper: stopped")
			return
		case <-ticker.C:
		}
		removed := r.Store.SweepOnce(r.MaxAge)
		if removed > 0 {
			log.Printf("reaper: swept removed=%d remaining=%d", removed, r.Store.Len())
		}
		if r.OnSweep != nil {
			r.OnSweep(removed)
		}
	}
}
