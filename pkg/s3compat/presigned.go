package s3compat

import (
	"errors"
	"net/http"

	"github.com/assetguard/assetguard/internal/metrics"
	"github.com/assetguard/assetguard/internal/presigned"
	"github.com/assetguard/assetguard/internal/sigv4"
	"github.com/sirupsen/logrus"
)

// consumePresigned burns the signature of a pre-signed write so the URL
// cannot be replayed. Header-signed requests pass through. It runs after
// authorization, so a denied request leaves the URL unused.
func (h *Handler) consumePresigned(w http.ResponseWriter, r *http.Request, id *sigv4.Identity, bucketName, key string) bool {
	if id == nil || !id.Presigned {
		return true
	}
	if h.ledger == nil {
		h.metrics.RecordPresignOutcome(metrics.PresignAccepted)
		return true
	}

	err := h.ledger.Consume(r.Context(), presigned.Use{
		Signature: id.Signature,
		Bucket:    bucketName,
		Key:       key,
		AccessKey: id.AccessKey,
		ExpiresAt: id.ExpiresAt,
	})

	fields := logrus.Fields{
		"bucket":     bucketName,
		"key":        key,
		"principal":  id.Principal,
		"expires_at": id.ExpiresAt,
	}

	switch {
	case err == nil:
		h.metrics.RecordPresignOutcome(metrics.PresignAccepted)
		logrus.WithFields(fields).Debug("Pre-signed URL consumed")
		return true
	case errors.Is(err, presigned.ErrAlreadyUsed):
		h.metrics.RecordPresignOutcome(metrics.PresignReplayed)
		if first, lookupErr := h.ledger.Lookup(r.Context(), id.Signature); lookupErr == nil {
			fields["first_used_at"] = first.UsedAt
			fields["first_key"] = first.Key
		}
		logrus.WithFields(fields).Warn("Pre-signed URL replayed")
		h.writeError(w, ErrCodeAccessDenied, "Request signature has already been used", r.URL.Path, r)
	case errors.Is(err, presigned.ErrExpired):
		h.metrics.RecordPresignOutcome(metrics.PresignExpired)
		h.writeError(w, ErrCodeAccessDenied, "Request has expired", r.URL.Path, r)
	default:
		h.writeInternalError(w, r, err)
	}
	return false
}
