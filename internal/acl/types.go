package acl

import "errors"

// Common ACL errors
var (
	ErrACLNotFound      = errors.New("acl not found")
	ErrInvalidACL       = errors.New("invalid acl")
	ErrInvalidGrantee   = errors.New("invalid grantee")
	ErrInvalidCannedACL = errors.New("invalid canned acl")

	// ErrACLsDisabled mirrors S3's AccessControlListNotSupported: the bucket
	// uses BucketOwnerEnforced and rejects any ACL other than
	// bucket-owner-full-control.
	ErrACLsDisabled = errors.New("access control lists are disabled for this bucket")
)

// ACL represents an Access Control List for a bucket or object
type ACL struct {
	Owner     Owner   `json:"owner" yaml:"owner"`
	Grants    []Grant `json:"grants" yaml:"grants"`
	CannedACL string  `json:"canned_acl,omitempty" yaml:"canned_acl,omitempty"`
}

// Owner represents the owner of a resource
type Owner struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name" yaml:"display_name"`
}

// Grant represents a single permission grant
type Grant struct {
	Grantee    Grantee    `json:"grantee" yaml:"grantee"`
	Permission Permission `json:"permission" yaml:"permission"`
}

// Grantee represents the recipient of a permission grant
type Grantee struct {
	Type         GranteeType `json:"type" yaml:"type"`
	ID           string      `json:"id,omitempty" yaml:"id,omitempty"`
	DisplayName  string      `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	EmailAddress string      `json:"email_address,omitempty" yaml:"email_address,omitempty"`
	URI          string      `json:"uri,omitempty" yaml:"uri,omitempty"`
}

// Permission represents a type of access permission
type Permission string

const (
	PermissionRead        Permission = "READ"
	PermissionWrite       Permission = "WRITE"
	PermissionReadACP     Permission = "READ_ACP"
	PermissionWriteACP    Permission = "WRITE_ACP"
	PermissionFullControl Permission = "FULL_CONTROL"
)

// GranteeType represents the type of grantee
type GranteeType string

const (
	GranteeTypeCanonicalUser  GranteeType = "CanonicalUser"
	GranteeTypeAmazonCustomer GranteeType = "AmazonCustomerByEmail"
	GranteeTypeGroup          GranteeType = "Group"
)

// Canned ACL constants
const (
	CannedACLPrivate                = "private"
	CannedACLPublicRead             = "public-read"
	CannedACLPublicReadWrite        = "public-read-write"
	CannedACLAuthenticatedRead      = "authenticated-read"
	CannedACLBucketOwnerRead        = "bucket-owner-read"
	CannedACLBucketOwnerFullControl = "bucket-owner-full-control"
	CannedACLLogDeliveryWrite       = "log-delivery-write"
)

// Well-known S3 groups
const (
	GroupAllUsers           = "http://acs.amazonaws.com/groups/global/AllUsers"
	GroupAuthenticatedUsers = "http://acs.amazonaws.com/groups/global/AuthenticatedUsers"
	GroupLogDelivery        = "http://acs.amazonaws.com/groups/s3/LogDelivery"
)

// IsValidCannedACL checks if a canned ACL string is valid
func IsValidCannedACL(cannedACL string) bool {
	switch cannedACL {
	case CannedACLPrivate,
		CannedACLPublicRead,
		CannedACLPublicReadWrite,
		CannedACLAuthenticatedRead,
		CannedACLBucketOwnerRead,
		CannedACLBucketOwnerFullControl,
		CannedACLLogDeliveryWrite:
		return true
	}
	return false
}

// IsValidPermission checks if a permission string is valid
func IsValidPermission(perm Permission) bool {
	switch perm {
	case PermissionRead,
		PermissionWrite,
		PermissionReadACP,
		PermissionWriteACP,
		PermissionFullControl:
		return true
	}
	return false
}

// Validate checks owner, grantees and permissions
func (a *ACL) Validate() error {
	if a == nil {
		return ErrInvalidACL
	}
	if a.Owner.ID == "" {
		return errors.Join(ErrInvalidACL, errors.New("owner id is required"))
	}
	for _, g := range a.Grants {
		if !IsValidPermission(g.Permission) {
			return errors.Join(ErrInvalidACL, errors.New("unknown permission "+string(g.Permission)))
		}
		switch g.Grantee.Type {
		case GranteeTypeCanonicalUser:
			if g.Grantee.ID == "" {
				return ErrInvalidGrantee
			}
		case GranteeTypeGroup:
			if g.Grantee.URI != GroupAllUsers && g.Grantee.URI != GroupAuthenticatedUsers && g.Grantee.URI != GroupLogDelivery {
				return ErrInvalidGrantee
			}
		case GranteeTypeAmazonCustomer:
			if g.Grantee.EmailAddress == "" {
				return ErrInvalidGrantee
			}
		default:
			return ErrInvalidGrantee
		}
	}
	return nil
}
