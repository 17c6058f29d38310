package policy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks the document structure
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidPolicy)
	}
	if d.Version != Version {
		return fmt.Errorf("%w: version must be %q", ErrInvalidPolicy, Version)
	}
	if len(d.Statement) == 0 {
		return fmt.Errorf("%w: policy must have at least one statement", ErrInvalidPolicy)
	}

	sids := map[string]bool{}
	for i, stmt := range d.Statement {
		if err := validateStatement(stmt, i); err != nil {
			return err
		}
		if stmt.Sid != "" {
			if sids[stmt.Sid] {
				return fmt.Errorf("%w: statement %d: duplicate sid %q", ErrInvalidPolicy, i, stmt.Sid)
			}
			sids[stmt.Sid] = true
		}
	}
	return nil
}

func validateStatement(stmt Statement, index int) error {
	if stmt.Effect != EffectAllow && stmt.Effect != EffectDeny {
		return fmt.Errorf("%w: statement %d: effect must be 'Allow' or 'Deny'", ErrInvalidPolicy, index)
	}
	if len(stmt.Action) == 0 {
		return fmt.Errorf("%w: statement %d: must specify at least one action", ErrInvalidPolicy, index)
	}
	for _, a := range stmt.Action {
		if a != "*" && !strings.HasPrefix(strings.ToLower(a), "s3:") {
			return fmt.Errorf("%w: statement %d: unsupported action %q", ErrInvalidPolicy, index, a)
		}
	}

	hasResource := len(stmt.Resource) > 0
	hasNotResource := len(stmt.NotResource) > 0
	if hasResource == hasNotResource {
		return fmt.Errorf("%w: statement %d: exactly one of Resource or NotResource is required", ErrInvalidPolicy, index)
	}
	for _, r := range append(append(StringOrSlice{}, stmt.Resource...), stmt.NotResource...) {
		if r != "*" && !strings.HasPrefix(r, "arn:aws:s3:::") {
			return fmt.Errorf("%w: statement %d: resource %q is not an S3 ARN", ErrInvalidPolicy, index, r)
		}
	}

	for op := range stmt.Condition {
		if !knownOperator(op) {
			return fmt.Errorf("%w: statement %d: unsupported condition operator %q", ErrInvalidPolicy, index, op)
		}
	}
	return nil
}

// Parse decodes and validates a JSON policy document
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
