package acl

import (
	"encoding/xml"
	"errors"
	"fmt"
)

// ObjectOwnership is the bucket's ownership-controls mode
type ObjectOwnership string

const (
	// OwnershipBucketOwnerPreferred: objects uploaded with
	// bucket-owner-full-control become owned by the bucket owner; ACLs stay enabled.
	OwnershipBucketOwnerPreferred ObjectOwnership = "BucketOwnerPreferred"

	// OwnershipObjectWriter: the uploading account owns the object.
	OwnershipObjectWriter ObjectOwnership = "ObjectWriter"

	// OwnershipBucketOwnerEnforced: the bucket owner owns everything and ACLs are disabled.
	OwnershipBucketOwnerEnforced ObjectOwnership = "BucketOwnerEnforced"
)

var ErrInvalidOwnership = errors.New("invalid object ownership")

// Valid reports whether o is a known mode
func (o ObjectOwnership) Valid() bool {
	switch o {
	case OwnershipBucketOwnerPreferred, OwnershipObjectWriter, OwnershipBucketOwnerEnforced:
		return true
	}
	return false
}

// ACLsEnabled reports whether object and bucket ACLs affect access
func (o ObjectOwnership) ACLsEnabled() bool {
	return o != OwnershipBucketOwnerEnforced
}

// ResolveObjectOwner decides who owns a newly written object
func ResolveObjectOwner(mode ObjectOwnership, bucketOwner, writer Owner, cannedACL string) Owner {
	switch mode {
	case OwnershipBucketOwnerEnforced:
		return bucketOwner
	case OwnershipBucketOwnerPreferred:
		if cannedACL == CannedACLBucketOwnerFullControl {
			return bucketOwner
		}
		return writer
	default:
		return writer
	}
}

// NewObjectACL builds the ACL stored for a freshly written object.
// cannedACL is the x-amz-acl header value; when empty, defaultCanned
// (the bucket's canned ACL) applies.
func NewObjectACL(mode ObjectOwnership, bucketOwner, writer Owner, cannedACL, defaultCanned string) (*ACL, error) {
	if !mode.ACLsEnabled() {
		if cannedACL != "" && cannedACL != CannedACLBucketOwnerFullControl {
			return nil, ErrACLsDisabled
		}
		return CreateDefaultACL(bucketOwner), nil
	}

	effective := cannedACL
	if effective == "" {
		effective = defaultCanned
	}
	if effective == "" {
		effective = CannedACLPrivate
	}
	if !IsValidCannedACL(effective) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCannedACL, effective)
	}

	owner := ResolveObjectOwner(mode, bucketOwner, writer, cannedACL)
	return NewCannedACL(effective, owner, bucketOwner)
}

// S3OwnershipControls is the S3 XML body for GetBucketOwnershipControls
type S3OwnershipControls struct {
	XMLName xml.Name                 `xml:"OwnershipControls"`
	Xmlns   string                   `xml:"xmlns,attr,omitempty"`
	Rules   []S3OwnershipControlRule `xml:"Rule"`
}

// S3OwnershipControlRule is a single ownership rule
type S3OwnershipControlRule struct {
	ObjectOwnership string `xml:"ObjectOwnership"`
}

// OwnershipControlsXML renders a mode as the S3 XML document
func OwnershipControlsXML(mode ObjectOwnership) *S3OwnershipControls {
	return &S3OwnershipControls{
		Xmlns: "http://s3.amazonaws.com/doc/2006-03-01/",
		Rules: []S3OwnershipControlRule{{ObjectOwnership: string(mode)}},
	}
}

// ParseOwnershipControls extracts the mode from an S3 XML document
func ParseOwnershipControls(data []byte) (ObjectOwnership, error) {
	var doc S3OwnershipControls
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOwnership, err)
	}
	if len(doc.Rules) != 1 {
		return "", fmt.Errorf("%w: expected exactly one rule, got %d", ErrInvalidOwnership, len(doc.Rules))
	}
	mode := ObjectOwnership(doc.Rules[0].ObjectOwnership)
	if !mode.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidOwnership, mode)
	}
	return mode, nil
}
