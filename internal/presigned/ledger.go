package presigned

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/assetguard/assetguard/internal/metadata"
)

var (
	// ErrAlreadyUsed is returned when a pre-signed URL is replayed
	ErrAlreadyUsed = errors.New("pre-signed URL has already been used")

	// ErrExpired is returned when consuming a URL past its expiry
	ErrExpired = errors.New("pre-signed URL has expired")
)

const usedPrefix = "presign:used:"

// Use is the ledger record for a consumed URL
type Use struct {
	Signature string    `json:"-"`
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	AccessKey string    `json:"access_key"`
	ExpiresAt time.Time `json:"expires_at"`
	UsedAt    time.Time `json:"used_at"`
}

// Ledger makes pre-signed URLs single-use. Each consumed signature is kept
// until the URL would have expired anyway.
type Ledger struct {
	kv  metadata.RawKVStore
	now func() time.Time
}

// NewLedger creates a ledger on top of kv
func NewLedger(kv metadata.RawKVStore) *Ledger {
	return &Ledger{kv: kv, now: time.Now}
}

// Consume marks u.Signature as used. Only the first call for a signature
// succeeds.
func (l *Ledger) Consume(ctx context.Context, u Use) error {
	if u.Signature == "" {
		return fmt.Errorf("signature is required")
	}
	now := l.now()
	remaining := u.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return ErrExpired
	}
	// badger expiry has second granularity
	ttl := remaining.Truncate(time.Second) + time.Second

	u.UsedAt = now.UTC()
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	err = l.kv.PutRawIfAbsent(ctx, usedPrefix+u.Signature, data, ttl)
	if errors.Is(err, metadata.ErrKeyExists) {
		return ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("failed to record pre-signed use: %w", err)
	}
	return nil
}

// Lookup returns the record for a consumed signature
func (l *Ledger) Lookup(ctx context.Context, signature string) (*Use, error) {
	data, err := l.kv.GetRaw(ctx, usedPrefix+signature)
	if err != nil {
		return nil, err
	}
	var u Use
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger entry: %w", err)
	}
	u.Signature = signature
	return &u, nil
}
