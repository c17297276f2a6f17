// Package catalog keeps the terminal's product snapshot. Reads never block:
// the current snapshot is swapped atomically, and a refresh that was issued
// before the one already applied is dropped.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_pos/pkg/logger"
	"github.com/fjod/go_pos/pos-terminal/domain"
)

const (
	DefaultInterval = 30 * time.Second
	defaultTimeout  = 10 * time.Second
)

var ErrRefreshFailed = errors.New("catalog refresh failed")

type Fetcher interface {
	FetchProducts(ctx context.Context, category string) ([]domain.Product, error)
}

type Cache struct {
	fetcher  Fetcher
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	current atomic.Pointer[Snapshot]
	issued  atomic.Uint64

	mu        sync.Mutex
	category  string
	warning   string
	observers []func(*Snapshot)

	stop    chan struct{}
	running bool
	wg      sync.WaitGroup
}

func NewCache(fetcher Fetcher, interval time.Duration, log *slog.Logger) *Cache {
	if interval <= 0 {
		interval = DefaultInterval
	}
	c := &Cache{
		fetcher:  fetcher,
		interval: interval,
		timeout:  defaultTimeout,
		log:      logger.OrDefault(log),
		category: domain.AllCategoriesFilter,
	}
	c.current.Store(newSnapshot(domain.AllCategoriesFilter, nil, 0, time.Time{}))
	return c
}

// Snapshot returns the current snapshot. Never nil.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

func (c *Cache) Category() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.category
}

// Warning is the last refresh failure message, cleared by the next
// successful refresh.
func (c *Cache) Warning() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warning
}

// Subscribe registers fn to run after every applied snapshot.
func (c *Cache) Subscribe(fn func(*Snapshot)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// SetCategory switches the filter and refreshes.
func (c *Cache) SetCategory(ctx context.Context, category string) error {
	if category == "" {
		category = domain.AllCategoriesFilter
	}
	c.mu.Lock()
	c.category = category
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Refresh fetches the active category and replaces the snapshot. On failure
// the previous snapshot stays in place and a warning is recorded.
func (c *Cache) Refresh(ctx context.Context) error {
	// category and seq are taken together so a refresh for an older filter
	// always carries a lower seq than one issued after SetCategory
	c.mu.Lock()
	category := c.category
	seq := c.issued.Add(1)
	c.mu.Unlock()

	products, err := c.fetcher.FetchProducts(ctx, category)
	if err != nil {
		c.mu.Lock()
		c.warning = fmt.Sprintf("product list may be out of date: %v", err)
		c.mu.Unlock()
		c.log.WarnContext(ctx, "catalog refresh failed", "category", category, "seq", seq, "error", err)
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	next := newSnapshot(category, products, seq, time.Now())
	if !c.apply(next) {
		c.log.DebugContext(ctx, "stale catalog refresh discarded", "seq", seq)
		return nil
	}

	c.mu.Lock()
	c.warning = ""
	observers := append([]func(*Snapshot){}, c.observers...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(next)
	}
	return nil
}

// RefreshAsync runs Refresh in the background with the cache's own timeout.
func (c *Cache) RefreshAsync() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		_ = c.Refresh(ctx)
	}()
}

func (c *Cache) apply(next *Snapshot) bool {
	for {
		cur := c.current.Load()
		if cur.Seq > next.Seq {
			return false
		}
		if c.current.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Start loads the first snapshot and refreshes on the interval until Stop.
func (c *Cache) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.refreshWithTimeout(ctx)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.refreshWithTimeout(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	c.log.Info("catalog refresher started", "interval", c.interval)
}

// Stop ends the refresh loop and waits for in-flight refreshes.
func (c *Cache) Stop() {
	c.mu.Lock()
	if c.running {
		close(c.stop)
		c.running = false
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Cache) refreshWithTimeout(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_ = c.Refresh(ctx)
}
