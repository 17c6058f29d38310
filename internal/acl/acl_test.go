package acl

import (
	"context"
	"encoding/xml"
	"testing"

	"github.com/assetguard/assetguard/internal/metadata"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	bucketOwner = Owner{ID: "bucket-owner", DisplayName: "Bucket Owner"}
	appWriter   = Owner{ID: "app", DisplayName: "app"}
)

func setupTestKV(t *testing.T) metadata.RawKVStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	store, err := metadata.NewBadgerStore(metadata.BadgerOptions{DataDir: t.TempDir(), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestIsValidCannedACL(t *testing.T) {
	tests := []struct {
		cannedACL string
		want      bool
	}{
		{CannedACLPrivate, true},
		{CannedACLPublicRead, true},
		{CannedACLPublicReadWrite, true},
		{CannedACLAuthenticatedRead, true},
		{CannedACLBucketOwnerRead, true},
		{CannedACLBucketOwnerFullControl, true},
		{CannedACLLogDeliveryWrite, true},
		{"invalid-acl", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.cannedACL, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidCannedACL(tt.cannedACL))
		})
	}
}

func TestGetCannedACLGrants(t *testing.T) {
	tests := []struct {
		name       string
		cannedACL  string
		wantGrants int
		public     bool
		authRead   bool
	}{
		{"private", CannedACLPrivate, 1, false, false},
		{"public-read", CannedACLPublicRead, 2, true, true},
		{"public-read-write", CannedACLPublicReadWrite, 3, true, true},
		{"authenticated-read", CannedACLAuthenticatedRead, 2, false, true},
		{"bucket-owner-read", CannedACLBucketOwnerRead, 2, false, false},
		{"bucket-owner-full-control", CannedACLBucketOwnerFullControl, 2, false, false},
		{"log-delivery-write", CannedACLLogDeliveryWrite, 3, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewCannedACL(tt.cannedACL, appWriter, bucketOwner)
			require.NoError(t, err)
			assert.Len(t, a.Grants, tt.wantGrants)
			assert.Equal(t, PermissionFullControl, a.Grants[0].Permission)
			assert.Equal(t, appWriter.ID, a.Grants[0].Grantee.ID)
			assert.Equal(t, tt.public, a.CheckPublicAccess(PermissionRead))
			assert.Equal(t, tt.authRead, a.CheckAuthenticatedAccess(PermissionRead))
			assert.NoError(t, a.Validate())
		})
	}

	assert.Nil(t, GetCannedACLGrants("bogus", appWriter, bucketOwner))
	_, err := NewCannedACL("bogus", appWriter, bucketOwner)
	assert.ErrorIs(t, err, ErrInvalidCannedACL)
}

func TestGetCannedACLGrants_SameAccountSkipsBucketOwnerGrant(t *testing.T) {
	grants := GetCannedACLGrants(CannedACLBucketOwnerFullControl, bucketOwner, bucketOwner)
	assert.Len(t, grants, 1)
}

func TestResolveObjectOwner(t *testing.T) {
	tests := []struct {
		name   string
		mode   ObjectOwnership
		canned string
		want   Owner
	}{
		{"preferred with bucket-owner-full-control", OwnershipBucketOwnerPreferred, CannedACLBucketOwnerFullControl, bucketOwner},
		{"preferred with public-read", OwnershipBucketOwnerPreferred, CannedACLPublicRead, appWriter},
		{"preferred without acl", OwnershipBucketOwnerPreferred, "", appWriter},
		{"object writer", OwnershipObjectWriter, CannedACLBucketOwnerFullControl, appWriter},
		{"enforced", OwnershipBucketOwnerEnforced, "", bucketOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveObjectOwner(tt.mode, bucketOwner, appWriter, tt.canned))
		})
	}
}

func TestNewObjectACL(t *testing.T) {
	t.Run("bucket default applies", func(t *testing.T) {
		a, err := NewObjectACL(OwnershipBucketOwnerPreferred, bucketOwner, appWriter, "", CannedACLPublicRead)
		require.NoError(t, err)
		assert.Equal(t, CannedACLPublicRead, a.CannedACL)
		assert.True(t, a.CheckPublicAccess(PermissionRead))
		assert.False(t, a.CheckPublicAccess(PermissionWrite))
		assert.Equal(t, appWriter, a.Owner)
	})

	t.Run("header overrides bucket default", func(t *testing.T) {
		a, err := NewObjectACL(OwnershipBucketOwnerPreferred, bucketOwner, appWriter, CannedACLBucketOwnerFullControl, CannedACLPublicRead)
		require.NoError(t, err)
		assert.Equal(t, bucketOwner, a.Owner)
		assert.False(t, a.CheckPublicAccess(PermissionRead))
	})

	t.Run("enforced rejects acl header", func(t *testing.T) {
		_, err := NewObjectACL(OwnershipBucketOwnerEnforced, bucketOwner, appWriter, CannedACLPublicRead, "")
		assert.ErrorIs(t, err, ErrACLsDisabled)
	})

	t.Run("enforced accepts bucket-owner-full-control", func(t *testing.T) {
		a, err := NewObjectACL(OwnershipBucketOwnerEnforced, bucketOwner, appWriter, CannedACLBucketOwnerFullControl, "")
		require.NoError(t, err)
		assert.Equal(t, bucketOwner, a.Owner)
	})

	t.Run("invalid header", func(t *testing.T) {
		_, err := NewObjectACL(OwnershipObjectWriter, bucketOwner, appWriter, "world-writable", "")
		assert.ErrorIs(t, err, ErrInvalidCannedACL)
	})
}

func TestCheckPublicAccess_NilACL(t *testing.T) {
	var nilACL *ACL
	assert.False(t, nilACL.CheckPublicAccess(PermissionRead))
	assert.False(t, nilACL.CheckAuthenticatedAccess(PermissionRead))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		acl  *ACL
		ok   bool
	}{
		{"nil", nil, false},
		{"no owner", &ACL{}, false},
		{"default", CreateDefaultACL(bucketOwner), true},
		{"bad permission", &ACL{Owner: bucketOwner, Grants: []Grant{{Grantee: Grantee{Type: GranteeTypeGroup, URI: GroupAllUsers}, Permission: "ALL"}}}, false},
		{"bad group", &ACL{Owner: bucketOwner, Grants: []Grant{{Grantee: Grantee{Type: GranteeTypeGroup, URI: "http://example.com/g"}, Permission: PermissionRead}}}, false},
		{"user without id", &ACL{Owner: bucketOwner, Grants: []Grant{{Grantee: Grantee{Type: GranteeTypeCanonicalUser}, Permission: PermissionRead}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.acl.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestS3XMLRoundTrip(t *testing.T) {
	original, err := NewCannedACL(CannedACLPublicRead, appWriter, bucketOwner)
	require.NoError(t, err)

	data, err := xml.Marshal(original.ToS3Format())
	require.NoError(t, err)
	assert.Contains(t, string(data), GroupAllUsers)
	assert.Contains(t, string(data), `xsi:type="Group"`)

	parsed, err := ParseS3XML(data)
	require.NoError(t, err)
	assert.Equal(t, original.Owner, parsed.Owner)
	assert.Equal(t, original.Grants, parsed.Grants)
	assert.True(t, parsed.CheckPublicAccess(PermissionRead))

	_, err = ParseS3XML([]byte("<nope"))
	assert.ErrorIs(t, err, ErrInvalidACL)
}

func TestOwnershipControlsXML(t *testing.T) {
	data, err := xml.Marshal(OwnershipControlsXML(OwnershipBucketOwnerPreferred))
	require.NoError(t, err)

	mode, err := ParseOwnershipControls(data)
	require.NoError(t, err)
	assert.Equal(t, OwnershipBucketOwnerPreferred, mode)
	assert.True(t, mode.ACLsEnabled())
	assert.False(t, OwnershipBucketOwnerEnforced.ACLsEnabled())

	_, err = ParseOwnershipControls([]byte(`<OwnershipControls><Rule><ObjectOwnership>Nobody</ObjectOwnership></Rule></OwnershipControls>`))
	assert.ErrorIs(t, err, ErrInvalidOwnership)

	_, err = ParseOwnershipControls([]byte(`<OwnershipControls></OwnershipControls>`))
	assert.ErrorIs(t, err, ErrInvalidOwnership)
}

func TestManager_BucketACL(t *testing.T) {
	ctx := context.Background()
	m := NewManager(setupTestKV(t), bucketOwner)

	a, err := m.GetBucketACL(ctx, "assets")
	require.NoError(t, err)
	assert.Equal(t, CannedACLPrivate, a.CannedACL)
	assert.Equal(t, bucketOwner, a.Owner)

	public, err := NewCannedACL(CannedACLPublicRead, bucketOwner, bucketOwner)
	require.NoError(t, err)
	require.NoError(t, m.SetBucketACL(ctx, "assets", public))

	a, err = m.GetBucketACL(ctx, "assets")
	require.NoError(t, err)
	assert.Equal(t, CannedACLPublicRead, a.CannedACL)
	assert.True(t, a.CheckPublicAccess(PermissionRead))

	assert.ErrorIs(t, m.SetBucketACL(ctx, "assets", &ACL{}), ErrInvalidACL)
}

func TestManager_ObjectACL(t *testing.T) {
	ctx := context.Background()
	m := NewManager(setupTestKV(t), bucketOwner)

	_, err := m.GetObjectACL(ctx, "assets", "t1/a.png")
	assert.ErrorIs(t, err, ErrACLNotFound)

	a, err := NewObjectACL(OwnershipBucketOwnerPreferred, bucketOwner, appWriter, "", CannedACLPublicRead)
	require.NoError(t, err)
	require.NoError(t, m.SetObjectACL(ctx, "assets", "t1/a.png", a))

	got, err := m.GetObjectACL(ctx, "assets", "t1/a.png")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	// Keys are bucket scoped
	_, err = m.GetObjectACL(ctx, "other", "t1/a.png")
	assert.ErrorIs(t, err, ErrACLNotFound)

	require.NoError(t, m.DeleteObjectACL(ctx, "assets", "t1/a.png"))
	require.NoError(t, m.DeleteObjectACL(ctx, "assets", "t1/a.png"))
	_, err = m.GetObjectACL(ctx, "assets", "t1/a.png")
	assert.ErrorIs(t, err, ErrACLNotFound)
}
