package s3compat

import (
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// nullVersionID is the version id of every object in an unversioned bucket
const nullVersionID = "null"

type ListVersionsResult struct {
	XMLName             xml.Name        `xml:"ListVersionsResult"`
	Xmlns               string          `xml:"xmlns,attr"`
	Name                string          `xml:"Name"`
	Prefix              string          `xml:"Prefix"`
	KeyMarker           string          `xml:"KeyMarker"`
	VersionIdMarker     string          `xml:"VersionIdMarker"`
	NextKeyMarker       string          `xml:"NextKeyMarker,omitempty"`
	NextVersionIdMarker string          `xml:"NextVersionIdMarker,omitempty"`
	MaxKeys             int             `xml:"MaxKeys"`
	IsTruncated         bool            `xml:"IsTruncated"`
	Versions            []ObjectVersion `xml:"Version"`
}

type ObjectVersion struct {
	Key          string `xml:"Key"`
	VersionId    string `xml:"VersionId"`
	IsLatest     bool   `xml:"IsLatest"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
	Owner        Owner  `xml:"Owner"`
}

// GetBucketVersioning returns the versioning status. A bucket that never had
// versioning enabled returns an empty configuration.
func (h *Handler) GetBucketVersioning(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authorizeBucketRead(w, r)
	if !ok {
		return
	}
	h.writeXMLResponse(w, http.StatusOK, s.Versioning.ToXML())
}

// ListObjectVersions lists the current objects as the only versions they
// have. Writes overwrite in place, so every entry is the latest and its
// version id is "null".
func (h *Handler) ListObjectVersions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.authorizeBucketRead(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	prefix := q.Get("prefix")
	keyMarker := q.Get("key-marker")
	maxKeys, err := parseMaxKeys(q.Get("max-keys"))
	if err != nil {
		h.writeError(w, ErrCodeInvalidArgument, "max-keys must be a non-negative integer", r.URL.Path, r)
		return
	}

	objects, err := h.storage.List(r.Context(), storagePath(s.Name, prefix))
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}

	result := ListVersionsResult{
		Xmlns:     s3Namespace,
		Name:      s.Name,
		Prefix:    prefix,
		KeyMarker: keyMarker,
		MaxKeys:   maxKeys,
	}

	for _, obj := range objects {
		key := strings.TrimPrefix(obj.Path, s.Name+"/")
		if keyMarker != "" && key <= keyMarker {
			continue
		}
		if len(result.Versions) >= maxKeys {
			result.IsTruncated = true
			break
		}

		owner := Owner{ID: s.Owner.ID, DisplayName: s.Owner.DisplayName}
		if objACL, err := h.acls.GetObjectACL(r.Context(), s.Name, key); err == nil {
			owner = Owner{ID: objACL.Owner.ID, DisplayName: objACL.Owner.DisplayName}
		}

		result.Versions = append(result.Versions, ObjectVersion{
			Key:          key,
			VersionId:    nullVersionID,
			IsLatest:     true,
			LastModified: formatS3Time(obj.LastModified),
			ETag:         quoteETag(obj.ETag),
			Size:         obj.Size,
			StorageClass: "STANDARD",
			Owner:        owner,
		})
	}

	if result.IsTruncated && len(result.Versions) > 0 {
		result.NextKeyMarker = result.Versions[len(result.Versions)-1].Key
		result.NextVersionIdMarker = nullVersionID
	}

	logrus.WithFields(logrus.Fields{
		"bucket":   s.Name,
		"prefix":   prefix,
		"versions": len(result.Versions),
	}).Debug("Listed object versions")

	h.writeXMLResponse(w, http.StatusOK, result)
}
