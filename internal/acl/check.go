package acl

// CheckPublicAccess checks if an ACL allows anonymous access for a permission
func (a *ACL) CheckPublicAccess(permission Permission) bool {
	return a.groupAllows(GroupAllUsers, permission)
}

// CheckAuthenticatedAccess checks if an ACL allows any signed-in caller.
// AllUsers grants imply AuthenticatedUsers.
func (a *ACL) CheckAuthenticatedAccess(permission Permission) bool {
	return a.groupAllows(GroupAuthenticatedUsers, permission) || a.CheckPublicAccess(permission)
}

func (a *ACL) groupAllows(uri string, permission Permission) bool {
	if a == nil {
		return false
	}
	for _, grant := range a.Grants {
		if grant.Grantee.Type == GranteeTypeGroup && grant.Grantee.URI == uri {
			if permissionSatisfies(grant.Permission, permission) {
				return true
			}
		}
	}
	return false
}

func permissionSatisfies(granted, required Permission) bool {
	if granted == PermissionFullControl {
		return true
	}
	return granted == required
}
