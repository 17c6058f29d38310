package policy

import (
	"fmt"
	"strings"
)

// Request contains the context for policy evaluation
type Request struct {
	Principal string            // principal name or ARN
	Action    string            // S3 action (e.g. "s3:GetObject")
	Resource  string            // resource ARN (e.g. "arn:aws:s3:::bucket/key")
	Context   map[string]string // condition keys (e.g. "s3:x-amz-acl")
}

// Decision represents the result of policy evaluation
type Decision int

const (
	// DecisionDeny is the default decision (implicit deny)
	DecisionDeny Decision = iota
	// DecisionAllow means the action is explicitly allowed
	DecisionAllow
	// DecisionExplicitDeny means a Deny statement matched; it overrides any allow
	DecisionExplicitDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionExplicitDeny:
		return "explicit_deny"
	default:
		return "implicit_deny"
	}
}

// Result is a decision plus the statement that produced it
type Result struct {
	Decision    Decision
	StatementID string
}

// Allowed reports whether the request may proceed
func (r Result) Allowed() bool {
	return r.Decision == DecisionAllow
}

// Evaluate applies every document to the request:
// an explicit deny in any document wins, then any allow, otherwise implicit deny.
func Evaluate(req Request, docs ...*Document) Result {
	var allow *Result

	for _, doc := range docs {
		if doc == nil {
			continue
		}
		for i, stmt := range doc.Statement {
			if !stmt.matches(req) {
				continue
			}
			sid := stmt.Sid
			if sid == "" {
				sid = fmt.Sprintf("#%d", i)
			}
			switch stmt.Effect {
			case EffectDeny:
				return Result{Decision: DecisionExplicitDeny, StatementID: sid}
			case EffectAllow:
				if allow == nil {
					allow = &Result{Decision: DecisionAllow, StatementID: sid}
				}
			}
		}
	}

	if allow != nil {
		return *allow
	}
	return Result{Decision: DecisionDeny}
}

func (s Statement) matches(req Request) bool {
	if !s.Principal.Matches(req.Principal) {
		return false
	}
	if !actionMatches(s.Action, req.Action) {
		return false
	}
	if len(s.NotResource) > 0 {
		if resourceMatches(s.NotResource, req.Resource) {
			return false
		}
	} else if !resourceMatches(s.Resource, req.Resource) {
		return false
	}
	return s.Condition.evaluate(req.Context)
}

func actionMatches(actions StringOrSlice, requestAction string) bool {
	for _, a := range actions {
		if matchAction(a, requestAction) {
			return true
		}
	}
	return false
}

// matchAction compares case-insensitively, as IAM does for action names
func matchAction(policyAction, requestAction string) bool {
	p := strings.ToLower(policyAction)
	r := strings.ToLower(requestAction)
	if p == r || p == "*" || p == "s3:*" {
		return true
	}
	return wildcardMatch(p, r)
}

func resourceMatches(resources StringOrSlice, requestResource string) bool {
	for _, r := range resources {
		if r == "*" || r == requestResource || wildcardMatch(r, requestResource) {
			return true
		}
	}
	return false
}

// wildcardMatch implements IAM globbing: '*' matches any run of characters
// (including '/') and '?' matches exactly one. Matching is case-sensitive.
func wildcardMatch(pattern, s string) bool {
	p, i := 0, 0
	star, mark := -1, 0

	for i < len(s) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == s[i]):
			p++
			i++
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = i
			p++
		case star != -1:
			p = star + 1
			mark++
			i = mark
		default:
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
