package keygen

import (
	"context"
	"fmt"
	"time"

	"github.com/TheMichaelB/pwvault/internal/events"
)

// Store persists key records by hash.
type Store interface {
	// Put stores new records. Existing hashes are not overwritten.
	Put(ctx context.Context, records []Record) error
	// Redeem marks the record for hash as redeemed by device. It fails with
	// ErrKeyNotFound or ErrKeyRedeemed.
	Redeem(ctx context.Context, hash, device string, at time.Time) (*Record, error)
	// Get returns the record for hash or ErrKeyNotFound.
	Get(ctx context.Context, hash string) (*Record, error)
}

// Service provisions and redeems licence keys.
type Service struct {
	gen    *Generator
	store  Store
	logger *events.Logger
	now    func() time.Time
}

// NewService creates a service. store may be nil when keys are only printed.
func NewService(gen *Generator, store Store, logger *events.Logger) *Service {
	return &Service{
		gen:    gen,
		store:  store,
		logger: logger.WithField("service", "keygen"),
		now:    time.Now,
	}
}

// Provision generates n keys and stores their hashes. The returned keys
// are the only place the plain codes exist.
func (s *Service) Provision(ctx context.Context, n int) ([]Key, error) {
	if n <= 0 {
		return nil, fmt.Errorf("key count must be positive, got %d", n)
	}

	keys, err := s.gen.GenerateN(n)
	if err != nil {
		return nil, err
	}

	if s.store != nil {
		now := s.now().UTC()
		records := make([]Record, len(keys))
		for i, k := range keys {
			records[i] = Record{Hash: k.Hash, Prefix: s.gen.Prefix(), CreatedAt: now}
		}
		if err := s.store.Put(ctx, records); err != nil {
			return nil, fmt.Errorf("store keys: %w", err)
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"count":  n,
		"prefix": s.gen.Prefix(),
		"stored": s.store != nil,
	}).Info("Provisioned licence keys")
	return keys, nil
}

// Redeem claims code for device.
func (s *Service) Redeem(ctx context.Context, code, device string) (*Record, error) {
	if s.store == nil {
		return nil, fmt.Errorf("redeem: no key store configured")
	}
	if !s.gen.Valid(code) {
		return nil, ErrKeyNotFound
	}

	rec, err := s.store.Redeem(ctx, s.gen.Hash(code), device, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.logger.WithField("device", device).Info("Licence key redeemed")
	return rec, nil
}
