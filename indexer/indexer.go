// Package indexer keeps a materialized task view warm by following the
// chain head from a persisted checkpoint. It replaces fire-and-forget
// refresh with scheduled reconciliation: each pass scans only the blocks
// finalized since the previous one.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ava-labs/avalanchego/utils/logging"
	"github.com/ava-labs/hypersdk/codec"
	"github.com/google/uuid"

	"github.com/ratnathegod/satellite-sla-marketplace/content"
	"github.com/ratnathegod/satellite-sla-marketplace/escrow"
	"github.com/ratnathegod/satellite-sla-marketplace/events"
	"github.com/ratnathegod/satellite-sla-marketplace/scandb"
)

type Config struct {
	// PollInterval is the delay between reconciliation passes.
	PollInterval time.Duration `json:"pollInterval" yaml:"pollInterval"`
	// PruneDepth is how many blocks behind the checkpoint the dedup index
	// is retained before pruning.
	PruneDepth uint64 `json:"pruneDepth" yaml:"pruneDepth"`
}

func DefaultConfig() *Config {
	return &Config{
		PollInterval: 5 * time.Second,
		PruneDepth:   10000,
	}
}

func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}

// Syncer runs the reconciliation loop. The view it maintains is derived
// state: consumers read snapshots, never the engine's books.
type Syncer struct {
	reader   *events.Reader
	store    *scandb.Store
	contract codec.Address
	prefetch *content.Prefetcher
	config   *Config
	log      logging.Logger

	// session identifies one indexer lifetime in logs.
	session string

	// syncMu serializes reconciliation passes; mu only guards the
	// published snapshot, so readers are never blocked on a scan.
	syncMu sync.Mutex
	seen   map[string]struct{}

	mu      sync.RWMutex
	history []events.Decoded
	view    *events.View
	last    uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSyncer(
	reader *events.Reader,
	store *scandb.Store,
	contract codec.Address,
	prefetch *content.Prefetcher,
	config *Config,
	log logging.Logger,
) (*Syncer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid indexer config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		reader:   reader,
		store:    store,
		contract: contract,
		prefetch: prefetch,
		config:   config,
		log:      log,
		session:  uuid.NewString(),
		seen:     make(map[string]struct{}),
		view:     events.Materialize(nil, log),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the reconciliation loop.
func (s *Syncer) Start() error {
	checkpoint, err := s.store.Checkpoint(s.contract)
	switch {
	case errors.Is(err, scandb.ErrNoCheckpoint):
		s.log.Info(fmt.Sprintf("indexer session %s starting from genesis", s.session))
	case err != nil:
		return fmt.Errorf("loading checkpoint: %w", err)
	default:
		s.mu.Lock()
		s.last = checkpoint
		s.mu.Unlock()
		s.log.Info(fmt.Sprintf("indexer session %s resuming from block %d", s.session, checkpoint))
	}

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (s *Syncer) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Syncer) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.SyncOnce(s.ctx); err != nil {
				s.log.Error(fmt.Sprintf("reconciliation pass failed: %v", err))
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// SyncOnce performs a single reconciliation pass: scan every block
// finalized since the checkpoint, fold the novel events into the view, and
// advance the checkpoint. The scan runs outside the snapshot lock and the
// fold is incremental, so readers stay responsive and the cost of a pass
// tracks the delta, not the full history.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.RLock()
	last := s.last
	view := s.view
	s.mu.RUnlock()

	head, err := s.reader.Head(ctx)
	if err != nil {
		return err
	}
	if head <= last {
		return nil
	}

	decoded, err := s.reader.Scan(ctx, last+1, head)
	if err != nil {
		return err
	}

	novel := make([]events.Decoded, 0, len(decoded))
	mark := make([]scandb.SeenEntry, 0, len(decoded))
	cache := make([]string, 0, len(decoded))
	for _, d := range decoded {
		if _, dup := s.seen[d.Key()]; dup {
			continue
		}
		onDisk, err := s.store.Seen(d.BlockNumber, d.LogIndex, d.Name)
		if err != nil {
			return err
		}
		cache = append(cache, d.Key())
		if onDisk {
			continue
		}
		novel = append(novel, d)
		mark = append(mark, scandb.SeenEntry{
			Block:    d.BlockNumber,
			LogIndex: d.LogIndex,
			Name:     d.Name,
		})
	}

	if len(novel) > 0 {
		next := view.Extend(novel, s.log)
		if err := s.store.MarkSeen(mark); err != nil {
			return err
		}
		s.mu.Lock()
		s.history = append(s.history, novel...)
		s.view = next
		s.mu.Unlock()

		if s.prefetch != nil {
			for _, d := range novel {
				if created, ok := d.Event.(escrow.TaskCreated); ok {
					s.prefetch.Enqueue(created.ManifestRef)
				}
			}
		}
	}
	for _, key := range cache {
		s.seen[key] = struct{}{}
	}

	if err := s.store.SetCheckpoint(s.contract, head); err != nil {
		return err
	}
	s.mu.Lock()
	s.last = head
	s.mu.Unlock()

	if s.config.PruneDepth > 0 && head > s.config.PruneDepth {
		if err := s.store.PruneSeenBelow(head - s.config.PruneDepth); err != nil {
			s.log.Warn(fmt.Sprintf("dedup prune failed: %v", err))
		}
	}

	if len(novel) > 0 {
		s.log.Info(fmt.Sprintf("session %s folded %d events through block %d", s.session, len(novel), head))
	}
	return nil
}

// View returns the current materialized view. The returned value is
// replaced wholesale on update, never mutated, so holding it is safe.
func (s *Syncer) View() *events.View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Events returns the reconciled history, most recent first.
func (s *Syncer) Events() []events.Decoded {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]events.Decoded, len(s.history))
	copy(out, s.history)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber > out[j].BlockNumber
		}
		return out[i].LogIndex > out[j].LogIndex
	})
	return out
}

// LastScanned returns the checkpointed block.
func (s *Syncer) LastScanned() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Session returns the indexer session identifier.
func (s *Syncer) Session() string {
	return s.session
}
