// Package render produces the provisioning document for the asset bucket:
// its settings and every policy attached to the bucket's principals.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/assetguard/assetguard/internal/bucket"
	"github.com/assetguard/assetguard/internal/config"
	"github.com/assetguard/assetguard/internal/policy"
	"gopkg.in/yaml.v3"
)

// Output formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Policies groups the IAM documents by the principal they attach to
type Policies struct {
	App     *policy.Document `json:"app" yaml:"app"`
	Backend *policy.Document `json:"backend" yaml:"backend"`
	Auditor *policy.Document `json:"auditor" yaml:"auditor"`
	// PublicRead is the bucket policy equivalent of the public-read ACL, for
	// providers that do not support object ACLs
	PublicRead *policy.Document `json:"public_read" yaml:"public_read"`
}

// Document is everything needed to provision the bucket
type Document struct {
	Bucket   bucket.Settings `json:"bucket" yaml:"bucket"`
	Policies Policies        `json:"policies" yaml:"policies"`
	// KeyLayout documents how object keys are formed
	KeyLayout string `json:"key_layout" yaml:"key_layout"`
}

// FromConfig builds the document for the configured bucket
func FromConfig(cfg *config.Config) (*Document, error) {
	settings := bucket.AssetBucket(bucket.Options{
		Name:          cfg.Bucket.Name,
		Region:        cfg.Bucket.Region,
		AppOrigin:     cfg.Bucket.AppOrigin,
		MaxAgeSeconds: cfg.Bucket.CORSMaxAgeSeconds,
	})
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bucket settings: %w", err)
	}

	doc := &Document{
		Bucket: settings,
		Policies: Policies{
			App:        policy.AppCredentialPolicy(settings.Name, cfg.Bucket.ImageExtensions),
			Backend:    policy.BackendRolePolicy(settings.Name, cfg.Bucket.ObjectPrefix),
			Auditor:    policy.AuditorPolicy(settings.Name),
			PublicRead: policy.PublicReadPolicy(settings.Name),
		},
		KeyLayout: "{tenantId}/{objectId}",
	}

	for name, p := range map[string]*policy.Document{
		"app":         doc.Policies.App,
		"backend":     doc.Policies.Backend,
		"auditor":     doc.Policies.Auditor,
		"public_read": doc.Policies.PublicRead,
	} {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s policy: %w", name, err)
		}
	}

	return doc, nil
}

// Write encodes the document in the given format
func (d *Document) Write(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	case FormatYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q (want json or yaml)", format)
	}
}

// Marshal returns the encoded document
func (d *Document) Marshal(format string) ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Write(&buf, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
