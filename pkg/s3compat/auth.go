package s3compat

import (
	"errors"
	"net/http"

	"github.com/assetguard/assetguard/internal/acl"
	"github.com/assetguard/assetguard/internal/bucket"
	"github.com/assetguard/assetguard/internal/metrics"
	"github.com/assetguard/assetguard/internal/policy"
	"github.com/assetguard/assetguard/internal/sigv4"
	"github.com/sirupsen/logrus"
)

// Access decision labels for anonymous requests, which are decided by ACLs
const (
	decisionACLAllow = "acl_allow"
	decisionACLDeny  = "acl_deny"
)

// authenticate verifies the request signature. A nil identity with ok=true
// means the request is anonymous. On failure the error response has been
// written.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (*sigv4.Identity, bool) {
	if !sigv4.IsSigned(r) {
		return nil, true
	}

	id, err := h.verifier.Verify(r)
	if err == nil {
		return id, true
	}

	if sigv4.IsPresigned(r) {
		h.metrics.RecordPresignOutcome(presignOutcome(err))
	}
	logrus.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).WithError(err).Warn("Request authentication failed")

	code, message := authErrorCode(err)
	h.writeError(w, code, message, r.URL.Path, r)
	return nil, false
}

func authErrorCode(err error) (string, string) {
	switch {
	case errors.Is(err, sigv4.ErrUnknownAccessKey):
		return ErrCodeInvalidAccessKeyID, "The AWS Access Key Id you provided does not exist in our records."
	case errors.Is(err, sigv4.ErrSignatureMismatch):
		return ErrCodeSignatureDoesNotMatch, "The request signature we calculated does not match the signature you provided."
	case errors.Is(err, sigv4.ErrTimestampSkew):
		return ErrCodeRequestTimeTooSkewed, "The difference between the request time and the current time is too large."
	case errors.Is(err, sigv4.ErrExpired):
		return ErrCodeAccessDenied, "Request has expired"
	case errors.Is(err, sigv4.ErrNotYetValid):
		return ErrCodeAccessDenied, "Request is not valid yet"
	case errors.Is(err, sigv4.ErrExpiryTooLong):
		return ErrCodeAuthQueryParamsError, "X-Amz-Expires must be less than a week (in seconds) that is 604800"
	case errors.Is(err, sigv4.ErrUnsupportedBody):
		return ErrCodeNotImplemented, "Streaming payloads are not supported"
	default:
		return ErrCodeAuthHeaderMalformed, err.Error()
	}
}

func presignOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.PresignAccepted
	case errors.Is(err, sigv4.ErrExpired):
		return metrics.PresignExpired
	default:
		return metrics.PresignInvalid
	}
}

// authorize evaluates the identity policies attached to the caller.
// Anonymous callers have no identity policy and are always denied here.
func (h *Handler) authorize(id *sigv4.Identity, action, resource string, conditions map[string]string) bool {
	if id == nil {
		h.metrics.RecordAccessDecision(sigv4.PrincipalAnonymous, action, policy.DecisionDeny.String())
		return false
	}

	res := policy.Evaluate(policy.Request{
		Principal: id.Principal,
		Action:    action,
		Resource:  resource,
		Context:   conditions,
	}, h.policies[id.Principal]...)

	h.metrics.RecordAccessDecision(id.Principal, action, res.Decision.String())
	if !res.Allowed() {
		logrus.WithFields(logrus.Fields{
			"principal": id.Principal,
			"action":    action,
			"resource":  resource,
			"decision":  res.Decision.String(),
			"statement": res.StatementID,
		}).Info("Access denied by identity policy")
	}
	return res.Allowed()
}

// authorizeRequest authorizes the action and resource derived from the
// request itself, writing AccessDenied when it fails
func (h *Handler) authorizeRequest(w http.ResponseWriter, r *http.Request, id *sigv4.Identity, conditions map[string]string) bool {
	if h.authorize(id, sigv4.Action(r), sigv4.ResourceARN(r), conditions) {
		return true
	}
	h.writeError(w, ErrCodeAccessDenied, "Access Denied", r.URL.Path, r)
	return false
}

// allowAnonymous decides an unsigned request from an ACL's public grants.
// Grants are ignored when the bucket disables ACLs or blocks public ACLs.
func (h *Handler) allowAnonymous(s *bucket.Settings, action string, a *acl.ACL, perm acl.Permission) bool {
	allowed := a != nil &&
		s.Ownership.ACLsEnabled() &&
		s.PublicAccessBlock.AllowsPublicACLs() &&
		a.CheckPublicAccess(perm)
	decision := decisionACLDeny
	if allowed {
		decision = decisionACLAllow
	}
	h.metrics.RecordAccessDecision(sigv4.PrincipalAnonymous, action, decision)
	return allowed
}

func writerOwner(id *sigv4.Identity) acl.Owner {
	return acl.Owner{ID: id.Principal, DisplayName: id.Principal}
}
