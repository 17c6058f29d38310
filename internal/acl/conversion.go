package acl

import (
	"encoding/xml"
	"fmt"
)

// S3AccessControlPolicy represents the S3 XML format for ACLs
type S3AccessControlPolicy struct {
	XMLName           xml.Name            `xml:"AccessControlPolicy"`
	Xmlns             string              `xml:"xmlns,attr,omitempty"`
	Owner             S3Owner             `xml:"Owner"`
	AccessControlList S3AccessControlList `xml:"AccessControlList"`
}

// S3Owner represents the owner in S3 XML format
type S3Owner struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName,omitempty"`
}

// S3AccessControlList represents the grant list in S3 XML format
type S3AccessControlList struct {
	Grants []S3Grant `xml:"Grant"`
}

// S3Grant represents a single grant in S3 XML format
type S3Grant struct {
	Grantee    S3Grantee `xml:"Grantee"`
	Permission string    `xml:"Permission"`
}

// S3Grantee represents a grantee in S3 XML format
type S3Grantee struct {
	XMLName      xml.Name `xml:"Grantee"`
	Type         string   `xml:"http://www.w3.org/2001/XMLSchema-instance type,attr"` // decoded by namespace
	ID           string   `xml:"ID,omitempty"`
	DisplayName  string   `xml:"DisplayName,omitempty"`
	EmailAddress string   `xml:"EmailAddress,omitempty"`
	URI          string   `xml:"URI,omitempty"`
}

const xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"

// MarshalXML writes the grantee type with the literal xsi prefix. SDK
// clients match the attribute by that name rather than by namespace.
func (g S3Grantee) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: "Grantee"}
	start.Attr = []xml.Attr{
		{Name: xml.Name{Local: "xmlns:xsi"}, Value: xsiNamespace},
		{Name: xml.Name{Local: "xsi:type"}, Value: g.Type},
	}
	body := struct {
		ID           string `xml:"ID,omitempty"`
		DisplayName  string `xml:"DisplayName,omitempty"`
		EmailAddress string `xml:"EmailAddress,omitempty"`
		URI          string `xml:"URI,omitempty"`
	}{g.ID, g.DisplayName, g.EmailAddress, g.URI}
	return e.EncodeElement(body, start)
}

// ToS3Format converts an ACL to the S3 XML document
func (a *ACL) ToS3Format() *S3AccessControlPolicy {
	doc := &S3AccessControlPolicy{
		Xmlns: "http://s3.amazonaws.com/doc/2006-03-01/",
		Owner: S3Owner{
			ID:          a.Owner.ID,
			DisplayName: a.Owner.DisplayName,
		},
		AccessControlList: S3AccessControlList{
			Grants: make([]S3Grant, 0, len(a.Grants)),
		},
	}

	for _, g := range a.Grants {
		doc.AccessControlList.Grants = append(doc.AccessControlList.Grants, S3Grant{
			Grantee: S3Grantee{
				Type:         string(g.Grantee.Type),
				ID:           g.Grantee.ID,
				DisplayName:  g.Grantee.DisplayName,
				EmailAddress: g.Grantee.EmailAddress,
				URI:          g.Grantee.URI,
			},
			Permission: string(g.Permission),
		})
	}

	return doc
}

// FromS3Format converts the S3 XML document to an ACL
func FromS3Format(doc *S3AccessControlPolicy) *ACL {
	a := &ACL{
		Owner: Owner{
			ID:          doc.Owner.ID,
			DisplayName: doc.Owner.DisplayName,
		},
		Grants: make([]Grant, 0, len(doc.AccessControlList.Grants)),
	}

	for _, g := range doc.AccessControlList.Grants {
		a.Grants = append(a.Grants, Grant{
			Grantee: Grantee{
				Type:         GranteeType(g.Grantee.Type),
				ID:           g.Grantee.ID,
				DisplayName:  g.Grantee.DisplayName,
				EmailAddress: g.Grantee.EmailAddress,
				URI:          g.Grantee.URI,
			},
			Permission: Permission(g.Permission),
		})
	}

	return a
}

// ParseS3XML decodes and validates an AccessControlPolicy body
func ParseS3XML(data []byte) (*ACL, error) {
	var doc S3AccessControlPolicy
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidACL, err)
	}
	a := FromS3Format(&doc)
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
