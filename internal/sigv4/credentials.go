package sigv4

import (
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Principals known to the asset bucket
const (
	PrincipalApp       = "app"
	PrincipalBackend   = "backend"
	PrincipalAuditor   = "auditor"
	PrincipalAnonymous = ""
)

// Credential is a static key pair bound to a principal
type Credential struct {
	AccessKey string
	SecretKey string
	Principal string
}

// AWS returns the SDK form of the key pair
func (c Credential) AWS() aws.Credentials {
	return aws.Credentials{
		AccessKeyID:     c.AccessKey,
		SecretAccessKey: c.SecretKey,
		Source:          "assetguard-static",
	}
}

// Provider returns a static SDK credentials provider for the pair
func (c Credential) Provider() aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")
}

// Registry maps access keys to credentials
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Credential
}

// NewRegistry builds a registry. Access keys must be unique and both
// halves of every pair present.
func NewRegistry(creds ...Credential) (*Registry, error) {
	r := &Registry{byKey: make(map[string]Credential, len(creds))}
	for _, c := range creds {
		if err := r.Add(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers a credential
func (r *Registry) Add(c Credential) error {
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("credential for %q is incomplete", c.Principal)
	}
	if c.Principal == PrincipalAnonymous {
		return fmt.Errorf("credential %s has no principal", c.AccessKey)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[c.AccessKey]; exists {
		return fmt.Errorf("duplicate access key %s", c.AccessKey)
	}
	r.byKey[c.AccessKey] = c
	return nil
}

// Lookup finds the credential for an access key
func (r *Registry) Lookup(accessKey string) (Credential, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byKey[accessKey]
	return c, ok
}
