package events

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/logging"
	"github.com/ava-labs/hypersdk/codec"

	"github.com/ratnathegod/satellite-sla-marketplace/escrow"
	"github.com/ratnathegod/satellite-sla-marketplace/ledger"
)

var (
	ErrABIUnavailable = errors.New("no event decoders registered")
	ErrTransport      = errors.New("ledger transport failure")
)

const (
	// DefaultWindow is the default scan depth in blocks.
	DefaultWindow = 1000
)

type Config struct {
	// Window is how many blocks a head-anchored scan covers.
	Window uint64 `json:"window" yaml:"window"`
}

func DefaultConfig() *Config {
	return &Config{
		Window: DefaultWindow,
	}
}

func (c *Config) Validate() error {
	if c.Window == 0 {
		return errors.New("scan window must be positive")
	}
	return nil
}

// Decoded is one reconciled transition record: the decoded variant plus the
// chain coordinates that give it identity and order.
type Decoded struct {
	BlockNumber uint64       `json:"blockNumber"`
	BlockTime   uint64       `json:"blockTime"`
	LogIndex    uint32       `json:"logIndex"`
	TxHash      ids.ID       `json:"transactionHash"`
	Name        string       `json:"eventName"`
	TaskID      uint64       `json:"taskId,omitempty"`
	HasTaskID   bool         `json:"hasTaskId"`
	Event       escrow.Event `json:"-"`
}

// Key is the duplicate-suppression identity for a decoded record.
func (d Decoded) Key() string {
	return fmt.Sprintf("%d/%d/%s", d.BlockNumber, d.LogIndex, d.Name)
}

// Reader reconciles a block window into an ordered, deduplicated sequence
// of decoded transition events. Readers hold no shared mutable state:
// any number of scans may run concurrently, and re-scanning an unchanged
// range yields identical output.
type Reader struct {
	client   ledger.Client
	contract codec.Address
	registry *Registry
	config   *Config
	log      logging.Logger
}

func NewReader(
	client ledger.Client,
	contract codec.Address,
	registry *Registry,
	config *Config,
	log logging.Logger,
) (*Reader, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reader config: %w", err)
	}
	return &Reader{
		client:   client,
		contract: contract,
		registry: registry,
		config:   config,
		log:      log,
	}, nil
}

// Head returns the ledger's current head block number.
func (r *Reader) Head(ctx context.Context) (uint64, error) {
	head, err := r.client.HeadBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return head, nil
}

// ScanLatest scans the configured window back from the current head, or
// from block zero when the chain is shorter than the window.
func (r *Reader) ScanLatest(ctx context.Context) ([]Decoded, error) {
	head, err := r.client.HeadBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	from := uint64(0)
	if head > r.config.Window {
		from = head - r.config.Window
	}
	return r.Scan(ctx, from, head)
}

// Scan decodes every log in [fromBlock, toBlock], most recent first. An
// individual undecodable log degrades to Unknown and never aborts the
// scan; only transport failure or a missing ABI is an error.
func (r *Reader) Scan(ctx context.Context, fromBlock, toBlock uint64) ([]Decoded, error) {
	if r.registry.Empty() {
		return nil, fmt.Errorf("%w: contract %s", ErrABIUnavailable, r.contract)
	}

	entries, err := r.client.EventLogs(ctx, r.contract, fromBlock, toBlock)
	if err != nil {
		if errors.Is(err, ledger.ErrBadRange) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	decoded := make([]Decoded, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		ev, ok := r.registry.Decode(entry)
		if !ok {
			r.log.Debug(fmt.Sprintf("undecodable log at block %d index %d retained as Unknown",
				entry.BlockNumber, entry.LogIndex))
		}

		d := Decoded{
			BlockNumber: entry.BlockNumber,
			BlockTime:   entry.BlockTime,
			LogIndex:    entry.LogIndex,
			TxHash:      entry.TxHash,
			Name:        ev.EventName(),
			Event:       ev,
		}
		if taskID, ok := escrow.EventTaskID(ev); ok {
			d.TaskID = taskID
			d.HasTaskID = true
		}

		if _, dup := seen[d.Key()]; dup {
			continue
		}
		seen[d.Key()] = struct{}{}
		decoded = append(decoded, d)
	}

	// Newest first; entries within a block keep a single consistent
	// reversal of log-index order.
	sort.SliceStable(decoded, func(i, j int) bool {
		if decoded[i].BlockNumber != decoded[j].BlockNumber {
			return decoded[i].BlockNumber > decoded[j].BlockNumber
		}
		return decoded[i].LogIndex > decoded[j].LogIndex
	})
	return decoded, nil
}
