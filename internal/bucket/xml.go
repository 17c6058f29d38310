package bucket

import "encoding/xml"

const s3Namespace = "http://s3.amazonaws.com/doc/2006-03-01/"

// CORSConfiguration is the S3 XML body for GetBucketCors
type CORSConfiguration struct {
	XMLName   xml.Name      `xml:"CORSConfiguration"`
	Xmlns     string        `xml:"xmlns,attr,omitempty"`
	CORSRules []CORSRuleXML `xml:"CORSRule"`
}

// CORSRuleXML is a single rule in S3 XML form
type CORSRuleXML struct {
	ID             string   `xml:"ID,omitempty"`
	AllowedOrigins []string `xml:"AllowedOrigin"`
	AllowedMethods []string `xml:"AllowedMethod"`
	AllowedHeaders []string `xml:"AllowedHeader,omitempty"`
	ExposeHeaders  []string `xml:"ExposeHeader,omitempty"`
	MaxAgeSeconds  int      `xml:"MaxAgeSeconds,omitempty"`
}

// ToXML converts the CORS rules to the S3 document
func (c CORSConfig) ToXML() CORSConfiguration {
	doc := CORSConfiguration{
		Xmlns:     s3Namespace,
		CORSRules: make([]CORSRuleXML, len(c.CORSRules)),
	}
	for i, rule := range c.CORSRules {
		x := CORSRuleXML{
			ID:             rule.ID,
			AllowedOrigins: rule.AllowedOrigins,
			AllowedMethods: rule.AllowedMethods,
			AllowedHeaders: rule.AllowedHeaders,
			ExposeHeaders:  rule.ExposeHeaders,
		}
		if rule.MaxAgeSeconds != nil {
			x.MaxAgeSeconds = *rule.MaxAgeSeconds
		}
		doc.CORSRules[i] = x
	}
	return doc
}

// FromXML converts an S3 CORS document back to rules
func (doc CORSConfiguration) FromXML() CORSConfig {
	cfg := CORSConfig{CORSRules: make([]CORSRule, len(doc.CORSRules))}
	for i, x := range doc.CORSRules {
		rule := CORSRule{
			ID:             x.ID,
			AllowedOrigins: x.AllowedOrigins,
			AllowedMethods: x.AllowedMethods,
			AllowedHeaders: x.AllowedHeaders,
			ExposeHeaders:  x.ExposeHeaders,
		}
		if x.MaxAgeSeconds > 0 {
			maxAge := x.MaxAgeSeconds
			rule.MaxAgeSeconds = &maxAge
		}
		cfg.CORSRules[i] = rule
	}
	return cfg
}

// VersioningConfiguration is the S3 XML body for GetBucketVersioning.
// A bucket that never had versioning enabled returns an empty element.
type VersioningConfiguration struct {
	XMLName xml.Name `xml:"VersioningConfiguration"`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	Status  string   `xml:"Status,omitempty"`
}

// ToXML converts the versioning config to the S3 document
func (v VersioningConfig) ToXML() VersioningConfiguration {
	return VersioningConfiguration{Xmlns: s3Namespace, Status: v.Status}
}

// PublicAccessBlockConfiguration is the S3 XML body for GetPublicAccessBlock
type PublicAccessBlockConfiguration struct {
	XMLName               xml.Name `xml:"PublicAccessBlockConfiguration"`
	Xmlns                 string   `xml:"xmlns,attr,omitempty"`
	BlockPublicAcls       bool     `xml:"BlockPublicAcls"`
	IgnorePublicAcls      bool     `xml:"IgnorePublicAcls"`
	BlockPublicPolicy     bool     `xml:"BlockPublicPolicy"`
	RestrictPublicBuckets bool     `xml:"RestrictPublicBuckets"`
}

// ToXML converts the block flags to the S3 document
func (p PublicAccessBlock) ToXML() PublicAccessBlockConfiguration {
	return PublicAccessBlockConfiguration{
		Xmlns:                 s3Namespace,
		BlockPublicAcls:       p.BlockPublicAcls,
		IgnorePublicAcls:      p.IgnorePublicAcls,
		BlockPublicPolicy:     p.BlockPublicPolicy,
		RestrictPublicBuckets: p.RestrictPublicBuckets,
	}
}
