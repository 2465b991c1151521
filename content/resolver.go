// Package content bridges on-ledger content handles and the external
// content-addressed store. Resolution is a pure read; nothing here touches
// task state.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ava-labs/avalanchego/utils/logging"
)

var (
	ErrContentUnavailable = errors.New("content unavailable")
	ErrTimeout            = errors.New("content fetch timed out")
	ErrOversizeContent    = errors.New("content exceeds size limit")
	ErrDigestMismatch     = errors.New("content digest does not match handle")
	ErrEmptyRef           = errors.New("empty content handle")
)

// Store is the content-addressed store boundary (IPFS-like): content in,
// handle out; handle in, content out.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

type Config struct {
	// FetchTimeout bounds every store round trip.
	FetchTimeout time.Duration `json:"fetchTimeout" yaml:"fetchTimeout"`
	// MaxManifestSize and MaxProofSize reject oversize content before it
	// reaches validation or display.
	MaxManifestSize int `json:"maxManifestSize" yaml:"maxManifestSize"`
	MaxProofSize    int `json:"maxProofSize" yaml:"maxProofSize"`
	// VerifyDigest recomputes the digest of fetched bytes and compares it
	// to the handle before returning content. Off by default: the store
	// protocol does not promise handle/digest equality, so enforcement is
	// opt-in.
	VerifyDigest bool `json:"verifyDigest" yaml:"verifyDigest"`
}

func DefaultConfig() *Config {
	return &Config{
		FetchTimeout:    10 * time.Second,
		MaxManifestSize: 256 * 1024,       // 256KB
		MaxProofSize:    16 * 1024 * 1024, // 16MB
		VerifyDigest:    false,
	}
}

func (c *Config) Validate() error {
	if c.FetchTimeout <= 0 {
		return errors.New("fetch timeout must be positive")
	}
	if c.MaxManifestSize <= 0 || c.MaxProofSize <= 0 {
		return errors.New("size limits must be positive")
	}
	return nil
}

// Resolver fetches manifests and proofs by handle, enforcing the size
// policy and surfacing timeouts instead of hanging callers.
type Resolver struct {
	store  Store
	config *Config
	log    logging.Logger
}

func NewResolver(store Store, config *Config, log logging.Logger) (*Resolver, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{
		store:  store,
		config: config,
		log:    log,
	}, nil
}

// ResolveManifest fetches the task description referenced by ref.
func (r *Resolver) ResolveManifest(ctx context.Context, ref string) ([]byte, error) {
	return r.fetch(ctx, ref, r.config.MaxManifestSize)
}

// ResolveProof fetches the completion proof referenced by ref.
func (r *Resolver) ResolveProof(ctx context.Context, ref string) ([]byte, error) {
	return r.fetch(ctx, ref, r.config.MaxProofSize)
}

func (r *Resolver) fetch(ctx context.Context, ref string, maxSize int) ([]byte, error) {
	if ref == "" {
		return nil, ErrEmptyRef
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.FetchTimeout)
	defer cancel()

	data, err := r.store.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: ref %s", ErrTimeout, ref)
		}
		return nil, fmt.Errorf("%w: ref %s: %v", ErrContentUnavailable, ref, err)
	}

	if len(data) > maxSize {
		return nil, fmt.Errorf("%w: ref %s: %d bytes, limit %d", ErrOversizeContent, ref, len(data), maxSize)
	}

	if r.config.VerifyDigest {
		if digest := Digest(data); digest != ref {
			return nil, fmt.Errorf("%w: ref %s, computed %s", ErrDigestMismatch, ref, digest)
		}
	}

	return data, nil
}

// Digest computes the canonical handle for a blob of content.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
