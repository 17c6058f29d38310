package acl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/assetguard/assetguard/internal/metadata"
	"github.com/sirupsen/logrus"
)

// Manager persists bucket and object ACLs
type Manager interface {
	GetBucketACL(ctx context.Context, bucketName string) (*ACL, error)
	SetBucketACL(ctx context.Context, bucketName string, acl *ACL) error

	// GetObjectACL returns ErrACLNotFound when no ACL was ever stored
	GetObjectACL(ctx context.Context, bucketName, objectKey string) (*ACL, error)
	SetObjectACL(ctx context.Context, bucketName, objectKey string, acl *ACL) error
	DeleteObjectACL(ctx context.Context, bucketName, objectKey string) error
}

// Storage key prefixes
const (
	bucketACLPrefix = "acl:bucket:"
	objectACLPrefix = "acl:object:"
)

type aclManager struct {
	kvStore     metadata.RawKVStore
	bucketOwner Owner
}

// NewManager creates a KV-backed ACL manager. bucketOwner owns the default
// private bucket ACL returned before one has been stored.
func NewManager(kv metadata.RawKVStore, bucketOwner Owner) Manager {
	return &aclManager{kvStore: kv, bucketOwner: bucketOwner}
}

func (m *aclManager) GetBucketACL(ctx context.Context, bucketName string) (*ACL, error) {
	a, err := m.load(ctx, bucketACLPrefix+bucketName)
	if errors.Is(err, ErrACLNotFound) {
		logrus.WithField("bucket", bucketName).Debug("Bucket ACL not found, returning default private ACL")
		return CreateDefaultACL(m.bucketOwner), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket ACL: %w", err)
	}
	return a, nil
}

func (m *aclManager) SetBucketACL(ctx context.Context, bucketName string, a *ACL) error {
	if err := m.store(ctx, bucketACLPrefix+bucketName, a); err != nil {
		return fmt.Errorf("failed to set bucket ACL: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"bucket":     bucketName,
		"canned_acl": a.CannedACL,
		"grants":     len(a.Grants),
	}).Debug("Bucket ACL set")
	return nil
}

func (m *aclManager) GetObjectACL(ctx context.Context, bucketName, objectKey string) (*ACL, error) {
	a, err := m.load(ctx, objectACLKey(bucketName, objectKey))
	if err != nil {
		if errors.Is(err, ErrACLNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get object ACL: %w", err)
	}
	return a, nil
}

func (m *aclManager) SetObjectACL(ctx context.Context, bucketName, objectKey string, a *ACL) error {
	if err := m.store(ctx, objectACLKey(bucketName, objectKey), a); err != nil {
		return fmt.Errorf("failed to set object ACL: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"bucket":     bucketName,
		"object":     objectKey,
		"owner":      a.Owner.ID,
		"canned_acl": a.CannedACL,
		"grants":     len(a.Grants),
	}).Debug("Object ACL set")
	return nil
}

func (m *aclManager) DeleteObjectACL(ctx context.Context, bucketName, objectKey string) error {
	err := m.kvStore.DeleteRaw(ctx, objectACLKey(bucketName, objectKey))
	if err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return fmt.Errorf("failed to delete object ACL: %w", err)
	}
	return nil
}

func (m *aclManager) load(ctx context.Context, key string) (*ACL, error) {
	data, err := m.kvStore.GetRaw(ctx, key)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, ErrACLNotFound
		}
		return nil, err
	}

	var a ACL
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ACL: %w", err)
	}
	return &a, nil
}

func (m *aclManager) store(ctx context.Context, key string, a *ACL) error {
	if err := a.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal ACL: %w", err)
	}
	return m.kvStore.PutRaw(ctx, key, data)
}

func objectACLKey(bucketName, objectKey string) string {
	return fmt.Sprintf("%s%s:%s", objectACLPrefix, bucketName, objectKey)
}
