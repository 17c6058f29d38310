package acl

func ownerGrant(o Owner, perm Permission) Grant {
	return Grant{
		Grantee: Grantee{
			Type:        GranteeTypeCanonicalUser,
			ID:          o.ID,
			DisplayName: o.DisplayName,
		},
		Permission: perm,
	}
}

func groupGrant(uri string, perm Permission) Grant {
	return Grant{
		Grantee:    Grantee{Type: GranteeTypeGroup, URI: uri},
		Permission: perm,
	}
}

// GetCannedACLGrants expands a canned ACL into grants for owner.
// bucketOwner is only consulted by the bucket-owner-* ACLs and is skipped
// when it is the same account as owner.
// Returns nil if the canned ACL is not valid.
func GetCannedACLGrants(cannedACL string, owner, bucketOwner Owner) []Grant {
	grants := []Grant{ownerGrant(owner, PermissionFullControl)}

	switch cannedACL {
	case CannedACLPrivate:
	case CannedACLPublicRead:
		grants = append(grants, groupGrant(GroupAllUsers, PermissionRead))
	case CannedACLPublicReadWrite:
		grants = append(grants,
			groupGrant(GroupAllUsers, PermissionRead),
			groupGrant(GroupAllUsers, PermissionWrite))
	case CannedACLAuthenticatedRead:
		grants = append(grants, groupGrant(GroupAuthenticatedUsers, PermissionRead))
	case CannedACLBucketOwnerRead:
		if bucketOwner.ID != "" && bucketOwner.ID != owner.ID {
			grants = append(grants, ownerGrant(bucketOwner, PermissionRead))
		}
	case CannedACLBucketOwnerFullControl:
		if bucketOwner.ID != "" && bucketOwner.ID != owner.ID {
			grants = append(grants, ownerGrant(bucketOwner, PermissionFullControl))
		}
	case CannedACLLogDeliveryWrite:
		grants = append(grants,
			groupGrant(GroupLogDelivery, PermissionWrite),
			groupGrant(GroupLogDelivery, PermissionReadACP))
	default:
		return nil
	}

	return grants
}

// NewCannedACL builds an ACL from a canned ACL string
func NewCannedACL(cannedACL string, owner, bucketOwner Owner) (*ACL, error) {
	grants := GetCannedACLGrants(cannedACL, owner, bucketOwner)
	if grants == nil {
		return nil, ErrInvalidCannedACL
	}
	return &ACL{
		Owner:     owner,
		Grants:    grants,
		CannedACL: cannedACL,
	}, nil
}

// CreateDefaultACL creates a default private ACL for an owner
func CreateDefaultACL(owner Owner) *ACL {
	return &ACL{
		Owner:     owner,
		Grants:    []Grant{ownerGrant(owner, PermissionFullControl)},
		CannedACL: CannedACLPrivate,
	}
}
