package bucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/assetguard/assetguard/internal/metadata"
	"github.com/sirupsen/logrus"
)

const settingsPrefix = "bucket:settings:"

// Registry stores bucket settings in the metadata KV store. A bucket is
// registered once; registering it again with different settings fails.
type Registry struct {
	kv metadata.RawKVStore
}

// NewRegistry creates a registry on top of kv
func NewRegistry(kv metadata.RawKVStore) *Registry {
	return &Registry{kv: kv}
}

// Ensure registers settings if the bucket is new. It is idempotent for
// identical settings and returns ErrSettingsImmutable otherwise.
func (r *Registry) Ensure(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return errors.Join(ErrInvalidSettings, err)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal bucket settings: %w", err)
	}

	err = r.kv.PutRawIfAbsent(ctx, settingsPrefix+s.Name, data, 0)
	if err == nil {
		logrus.WithFields(logrus.Fields{
			"bucket":     s.Name,
			"canned_acl": s.CannedACL,
			"ownership":  s.Ownership,
		}).Info("Bucket registered")
		return nil
	}
	if !errors.Is(err, metadata.ErrKeyExists) {
		return fmt.Errorf("failed to register bucket: %w", err)
	}

	existing, err := r.Get(ctx, s.Name)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(normalize(*existing), normalize(s)) {
		return fmt.Errorf("%w: %s", ErrSettingsImmutable, s.Name)
	}
	return nil
}

// Get returns the stored settings for name
func (r *Registry) Get(ctx context.Context, name string) (*Settings, error) {
	data, err := r.kv.GetRaw(ctx, settingsPrefix+name)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, ErrBucketNotFound
		}
		return nil, fmt.Errorf("failed to get bucket settings: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bucket settings: %w", err)
	}
	return &s, nil
}

// List returns every registered bucket name
func (r *Registry) List(ctx context.Context) ([]string, error) {
	var names []string
	err := r.kv.RawScan(ctx, settingsPrefix, func(key string, _ []byte) bool {
		names = append(names, strings.TrimPrefix(key, settingsPrefix))
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	return names, nil
}

// normalize round-trips through JSON so nil and empty slices compare equal
func normalize(s Settings) Settings {
	data, _ := json.Marshal(s)
	var out Settings
	_ = json.Unmarshal(data, &out)
	return out
}
