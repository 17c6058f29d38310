package policy

import (
	"strings"
)

// S3 actions referenced by the asset bucket policies
const (
	ActionGetObject       = "s3:GetObject"
	ActionPutObject       = "s3:PutObject"
	ActionDeleteObject    = "s3:DeleteObject"
	ActionGetObjectAcl    = "s3:GetObjectAcl"
	ActionPutObjectAcl    = "s3:PutObjectAcl"
	ActionListBucket      = "s3:ListBucket"
	ActionListBucketVers  = "s3:ListBucketVersions"
	ActionGetBucketAcl    = "s3:GetBucketAcl"
	ActionGetBucketCORS   = "s3:GetBucketCORS"
	ActionGetBucketVers   = "s3:GetBucketVersioning"
	ActionGetBucketOwner  = "s3:GetBucketOwnershipControls"
	ActionGetBucketPAB    = "s3:GetBucketPublicAccessBlock"
	ActionGetBucketPolicy = "s3:GetBucketPolicy"
)

// Statement ids used by the generated policies
const (
	SidDenyNonImageACL   = "DenyPutObjectAclOnNonImages"
	SidAppObjectAccess   = "AppObjectAccess"
	SidAppBucketRead     = "AppBucketRead"
	SidBackendObjects    = "BackendObjectAccess"
	SidBackendList       = "BackendListBucket"
	SidPublicReadObjects = "PublicReadGetObject"
	SidAuditorConfig     = "AuditorReadBucketConfig"
	SidAuditorObjects    = "AuditorReadObjects"
)

// BucketARN returns arn:aws:s3:::bucket
func BucketARN(bucket string) string {
	return "arn:aws:s3:::" + bucket
}

// ObjectARN returns the ARN for key (which may contain wildcards)
func ObjectARN(bucket, key string) string {
	return BucketARN(bucket) + "/" + key
}

// AppCredentialPolicy is the identity policy of the application credential.
// It allows object reads and writes, then denies PutObjectAcl on every
// object whose key does not end in one of exts. Both lower- and upper-case
// spellings of each extension are listed since resource matching is
// case-sensitive.
func AppCredentialPolicy(bucket string, exts []string) *Document {
	return &Document{
		Version: Version,
		Statement: []Statement{
			{
				Sid:    SidAppObjectAccess,
				Effect: EffectAllow,
				Action: StringOrSlice{
					ActionGetObject,
					ActionPutObject,
					ActionGetObjectAcl,
					ActionPutObjectAcl,
				},
				Resource: StringOrSlice{ObjectARN(bucket, "*")},
			},
			{
				Sid:      SidAppBucketRead,
				Effect:   EffectAllow,
				Action:   StringOrSlice{ActionListBucket},
				Resource: StringOrSlice{BucketARN(bucket)},
			},
			ImageACLDenyStatement(bucket, exts),
		},
	}
}

// ImageACLDenyStatement denies s3:PutObjectAcl outside the image extensions.
// ARN matching is case-sensitive, so each extension is listed in its
// lowercase and uppercase spelling and mixed-case keys stay denied.
func ImageACLDenyStatement(bucket string, exts []string) Statement {
	var allowed StringOrSlice
	seen := map[string]bool{}
	for _, ext := range exts {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		for _, variant := range []string{strings.ToLower(ext), strings.ToUpper(ext)} {
			if !seen[variant] {
				seen[variant] = true
				allowed = append(allowed, ObjectARN(bucket, "*"+variant))
			}
		}
	}

	return Statement{
		Sid:         SidDenyNonImageACL,
		Effect:      EffectDeny,
		Action:      StringOrSlice{ActionPutObjectAcl},
		NotResource: allowed,
	}
}

// BackendRolePolicy is the identity policy for the server and worker role:
// object read/write/delete/ACL under prefix, plus ListBucket.
// prefix "" or "*" means the whole bucket.
func BackendRolePolicy(bucket, prefix string) *Document {
	objectPattern := "*"
	listCondition := Conditions(nil)

	prefix = strings.Trim(prefix, "/")
	if prefix != "" && prefix != "*" {
		prefix = strings.TrimSuffix(prefix, "*")
		prefix = strings.TrimSuffix(prefix, "/")
		objectPattern = prefix + "/*"
		listCondition = Conditions{
			CondStringLike: {"s3:prefix": StringOrSlice{"", prefix + "/*"}},
		}
	}

	return &Document{
		Version: Version,
		Statement: []Statement{
			{
				Sid:    SidBackendObjects,
				Effect: EffectAllow,
				Action: StringOrSlice{
					ActionGetObject,
					ActionPutObject,
					ActionDeleteObject,
					ActionPutObjectAcl,
				},
				Resource: StringOrSlice{ObjectARN(bucket, objectPattern)},
			},
			{
				Sid:       SidBackendList,
				Effect:    EffectAllow,
				Action:    StringOrSlice{ActionListBucket},
				Resource:  StringOrSlice{BucketARN(bucket)},
				Condition: listCondition,
			},
		},
	}
}

// PublicReadPolicy is the resource policy equivalent of the public-read
// canned ACL: anyone may GetObject.
func PublicReadPolicy(bucket string) *Document {
	return &Document{
		Version: Version,
		Statement: []Statement{
			{
				Sid:       SidPublicReadObjects,
				Effect:    EffectAllow,
				Principal: AnyPrincipal(),
				Action:    StringOrSlice{ActionGetObject},
				Resource:  StringOrSlice{ObjectARN(bucket, "*")},
			},
		},
	}
}

// AuditorPolicy is a read-only identity policy for compliance checks. It can
// read the bucket configuration and list objects and versions, but never
// write.
func AuditorPolicy(bucket string) *Document {
	return &Document{
		Version: Version,
		Statement: []Statement{
			{
				Sid:    SidAuditorConfig,
				Effect: EffectAllow,
				Action: StringOrSlice{
					ActionListBucket,
					ActionListBucketVers,
					ActionGetBucketAcl,
					ActionGetBucketCORS,
					ActionGetBucketVers,
					ActionGetBucketOwner,
					ActionGetBucketPAB,
				},
				Resource: StringOrSlice{BucketARN(bucket)},
			},
			{
				Sid:      SidAuditorObjects,
				Effect:   EffectAllow,
				Action:   StringOrSlice{ActionGetObject, ActionGetObjectAcl},
				Resource: StringOrSlice{ObjectARN(bucket, "*")},
			},
		},
	}
}
