// Package scandb persists reader scan progress so an indexer restart
// resumes from its last scanned block instead of re-processing the chain,
// with duplicate suppression keyed on (blockNumber, logIndex, eventName).
package scandb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ava-labs/avalanchego/utils/logging"
	"github.com/ava-labs/hypersdk/codec"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	ErrClosed       = errors.New("scan store is closed")
	ErrNoCheckpoint = errors.New("no checkpoint recorded")
	ErrNameTooLarge = errors.New("event name exceeds key limit")
)

const (
	checkpointPrefix byte = 0x00
	seenPrefix       byte = 0x01

	maxNameSize = 64
)

type Config struct {
	Path         string `json:"path" yaml:"path"`
	CacheSize    int    `json:"cacheSize" yaml:"cacheSize"`
	MaxOpenFiles int    `json:"maxOpenFiles" yaml:"maxOpenFiles"`
}

func DefaultConfig() *Config {
	return &Config{
		Path:         "scanstate",
		CacheSize:    8 * 1024 * 1024, // 8MB
		MaxOpenFiles: 64,
	}
}

func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("scan store path not set")
	}
	return nil
}

// Store is a leveldb-backed scan-state store. Safe for concurrent use,
// including a Close racing in-flight reads.
type Store struct {
	db  *leveldb.DB
	log logging.Logger

	mu     sync.RWMutex
	closed bool
}

func New(config *Config, log logging.Logger) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := leveldb.OpenFile(config.Path, &opt.Options{
		BlockCacheCapacity:     config.CacheSize,
		OpenFilesCacheCapacity: config.MaxOpenFiles,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open scan store: %w", err)
	}

	return &Store{
		db:  db,
		log: log,
	}, nil
}

// Checkpoint returns the last scanned block for a contract.
func (s *Store) Checkpoint(contract codec.Address) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	value, err := s.db.Get(checkpointKey(contract), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return 0, ErrNoCheckpoint
		}
		return 0, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("corrupt checkpoint value of %d bytes", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

// SetCheckpoint records the last scanned block for a contract.
func (s *Store) SetCheckpoint(contract codec.Address, block uint64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, block)
	if err := s.db.Put(checkpointKey(contract), value, nil); err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	return nil
}

// Seen reports whether an event identity was already processed.
func (s *Store) Seen(block uint64, logIndex uint32, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}

	key, err := seenKey(block, logIndex, name)
	if err != nil {
		return false, err
	}
	ok, err := s.db.Has(key, nil)
	if err != nil {
		return false, fmt.Errorf("failed to read seen index: %w", err)
	}
	return ok, nil
}

// MarkSeen records a batch of processed event identities atomically.
func (s *Store) MarkSeen(entries []SeenEntry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	batch := new(leveldb.Batch)
	for _, entry := range entries {
		key, err := seenKey(entry.Block, entry.LogIndex, entry.Name)
		if err != nil {
			return err
		}
		batch.Put(key, nil)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write seen batch: %w", err)
	}
	return nil
}

// PruneSeenBelow drops dedup entries for blocks below the horizon. Keeps
// the index bounded once a checkpoint has moved past them for good.
func (s *Store) PruneSeenBelow(horizon uint64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	limit := make([]byte, 9)
	limit[0] = seenPrefix
	binary.BigEndian.PutUint64(limit[1:], horizon)

	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(&util.Range{
		Start: []byte{seenPrefix},
		Limit: limit,
	}, nil)
	defer iter.Release()

	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("failed to iterate seen index: %w", err)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to prune seen index: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// SeenEntry is one processed event identity.
type SeenEntry struct {
	Block    uint64
	LogIndex uint32
	Name     string
}

func checkpointKey(contract codec.Address) []byte {
	key := make([]byte, 0, 1+len(contract))
	key = append(key, checkpointPrefix)
	key = append(key, contract[:]...)
	return key
}

func seenKey(block uint64, logIndex uint32, name string) ([]byte, error) {
	if len(name) > maxNameSize {
		return nil, fmt.Errorf("%w: %q", ErrNameTooLarge, name)
	}
	key := make([]byte, 0, 1+8+4+len(name))
	key = append(key, seenPrefix)
	var block8 [8]byte
	binary.BigEndian.PutUint64(block8[:], block)
	key = append(key, block8[:]...)
	var index4 [4]byte
	binary.BigEndian.PutUint32(index4[:], logIndex)
	key = append(key, index4[:]...)
	key = append(key, name...)
	return key, nil
}
