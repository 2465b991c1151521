package content

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ava-labs/avalanchego/utils/logging"
)

type PrefetchConfig struct {
	// Workers is the number of concurrent fetch workers.
	Workers int `json:"workers" yaml:"workers"`
	// QueueSize bounds the pending-handle queue; enqueues beyond it are
	// dropped, the next view rebuild re-requests them.
	QueueSize int `json:"queueSize" yaml:"queueSize"`
	// CacheEntries bounds the warm cache.
	CacheEntries int `json:"cacheEntries" yaml:"cacheEntries"`
}

func DefaultPrefetchConfig() *PrefetchConfig {
	return &PrefetchConfig{
		Workers:      4,
		QueueSize:    256,
		CacheEntries: 1024,
	}
}

func (c *PrefetchConfig) Validate() error {
	if c.Workers <= 0 {
		return errors.New("worker count must be positive")
	}
	if c.QueueSize <= 0 {
		return errors.New("queue size must be positive")
	}
	if c.CacheEntries <= 0 {
		return errors.New("cache size must be positive")
	}
	return nil
}

// Prefetcher warms manifests in the background so display reads hit a
// local cache instead of the store. Fetch failures are logged and
// dropped; the cache only ever misses, never blocks a task transition.
type Prefetcher struct {
	resolver *Resolver
	config   *PrefetchConfig
	log      logging.Logger

	refCh  chan string
	doneCh chan struct{}
	wg     sync.WaitGroup

	mu    sync.RWMutex
	cache map[string][]byte
	order []string
}

func NewPrefetcher(resolver *Resolver, config *PrefetchConfig, log logging.Logger) (*Prefetcher, error) {
	if config == nil {
		config = DefaultPrefetchConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Prefetcher{
		resolver: resolver,
		config:   config,
		log:      log,
		refCh:    make(chan string, config.QueueSize),
		doneCh:   make(chan struct{}),
		cache:    make(map[string][]byte),
	}, nil
}

func (p *Prefetcher) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Prefetcher) Stop() {
	close(p.doneCh)
	p.wg.Wait()
}

// Enqueue requests a background fetch. A full queue drops the request
// rather than blocking the caller.
func (p *Prefetcher) Enqueue(refs ...string) {
	for _, ref := range refs {
		if ref == "" || p.cached(ref) {
			continue
		}
		select {
		case p.refCh <- ref:
		case <-p.doneCh:
			return
		default:
			p.log.Debug(fmt.Sprintf("prefetch queue full, dropping %s", ref))
		}
	}
}

// Manifest serves a manifest cache-first, falling through to the
// resolver on a miss and warming the cache on the way back.
func (p *Prefetcher) Manifest(ctx context.Context, ref string) ([]byte, error) {
	if data, ok := p.lookup(ref); ok {
		return data, nil
	}
	data, err := p.resolver.ResolveManifest(ctx, ref)
	if err != nil {
		return nil, err
	}
	p.store(ref, data)
	return data, nil
}

func (p *Prefetcher) worker() {
	defer p.wg.Done()
	for {
		select {
		case ref := <-p.refCh:
			p.fetch(ref)
		case <-p.doneCh:
			return
		}
	}
}

func (p *Prefetcher) fetch(ref string) {
	if p.cached(ref) {
		return
	}
	data, err := p.resolver.ResolveManifest(context.Background(), ref)
	if err != nil {
		p.log.Debug(fmt.Sprintf("prefetch of %s failed: %v", ref, err))
		return
	}
	p.store(ref, data)
}

func (p *Prefetcher) cached(ref string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.cache[ref]
	return ok
}

func (p *Prefetcher) lookup(ref string) ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, ok := p.cache[ref]
	return data, ok
}

func (p *Prefetcher) store(ref string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.cache[ref]; ok {
		return
	}
	// Oldest-first eviction keeps the cache bounded.
	for len(p.order) >= p.config.CacheEntries {
		evict := p.order[0]
		p.order = p.order[1:]
		delete(p.cache, evict)
	}
	p.cache[ref] = data
	p.order = append(p.order, ref)
}

// CacheLen reports the number of warm entries.
func (p *Prefetcher) CacheLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}
