/*
sweeper.go - Automated certification expiry sweeper

PURPOSE:
  Periodically flips active certification records to expired once their
  two-year validity has passed, so the public verification endpoint never
  vouches for stale certificates.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Delegates the actual sweep to the store (one UPDATE)
  - Safe to run alongside commits; expiry only touches past records

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewExpirySweeper(store)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - engine/record.go: the two-year validity constant
  - engine/store.go: RecordStore.ExpireRecords
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/hivemark/certification-engine/engine"
)

// ExpirySweeper marks expired certification records in the background.
type ExpirySweeper struct {
	Store         engine.RecordStore
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpirySweeper creates a new sweeper.
func NewExpirySweeper(store engine.RecordStore) *ExpirySweeper {
	return &ExpirySweeper{
		Store:         store,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (es *ExpirySweeper) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.wg.Add(1)

	go es.run()

	log.Printf("[Sweeper] Started with check interval: %v", es.CheckInterval)
}

// Stop stops the sweeper.
func (es *ExpirySweeper) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (es *ExpirySweeper) run() {
	defer es.wg.Done()

	// Run immediately on start
	es.sweep()

	for {
		select {
		case <-es.ticker.C:
			es.sweep()
		case <-es.stop:
			return
		}
	}
}

func (es *ExpirySweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := es.Store.ExpireRecords(ctx, time.Now())
	if err != nil {
		log.Printf("[Sweeper] Sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Sweeper] Expired %d certification record(s)", n)
	}
}
