package network

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// dedupTTL is how long a push is remembered. Validators retransmit
	// validation shares until acknowledged, so retries land well inside
	// this window.
	dedupTTL = 5 * time.Second

	// dedupSweepEvery is the interval between expiry sweeps.
	dedupSweepEvery = time.Second
)

// Dedup drops pushed messages that were already delivered. Entries are
// keyed by the blake3 hash of the raw payload and forgotten after the
// TTL, so a legitimate identical push later on goes through again.
type Dedup struct {
	mu      sync.Mutex
	expires map[[32]byte]time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewDedup creates a tracker and starts its expiry sweep.
func NewDedup() *Dedup {
	d := &Dedup{
		expires: make(map[[32]byte]time.Time),
		stop:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.sweepLoop()

	return d
}

// Check records the payload and reports whether it is new. A payload
// seen within the TTL returns false.
func (d *Dedup) Check(data []byte) bool {
	key := blake3.Sum256(data)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if deadline, seen := d.expires[key]; seen && now.Before(deadline) {
		return false
	}

	d.expires[key] = now.Add(dedupTTL)

	return true
}

// Close stops the expiry sweep.
func (d *Dedup) Close() {
	close(d.stop)
	d.wg.Wait()
}

func (d *Dedup) sweepLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(dedupSweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.sweep(time.Now())
		case <-d.stop:
			return
		}
	}
}

func (d *Dedup) sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, deadline := range d.expires {
		if !now.Before(deadline) {
			delete(d.expires, key)
		}
	}
}
