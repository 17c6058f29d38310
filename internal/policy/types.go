// Package policy models IAM-style access policies for the asset bucket and
// evaluates requests against them.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Version is the only policy language version we emit
const Version = "2012-10-17"

var ErrInvalidPolicy = errors.New("invalid policy")

// Effect is Allow or Deny
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// Document is an IAM policy document
type Document struct {
	Version   string      `json:"Version" yaml:"Version"`
	ID        string      `json:"Id,omitempty" yaml:"Id,omitempty"`
	Statement []Statement `json:"Statement" yaml:"Statement"`
}

// Statement is a single policy statement. Identity policies leave
// Principal unset; the policy applies to whoever it is attached to.
type Statement struct {
	Sid         string        `json:"Sid,omitempty" yaml:"Sid,omitempty"`
	Effect      Effect        `json:"Effect" yaml:"Effect"`
	Principal   *Principal    `json:"Principal,omitempty" yaml:"Principal,omitempty"`
	Action      StringOrSlice `json:"Action" yaml:"Action"`
	Resource    StringOrSlice `json:"Resource,omitempty" yaml:"Resource,omitempty"`
	NotResource StringOrSlice `json:"NotResource,omitempty" yaml:"NotResource,omitempty"`
	Condition   Conditions    `json:"Condition,omitempty" yaml:"Condition,omitempty"`
}

// StringOrSlice accepts either a JSON string or an array of strings
type StringOrSlice []string

func (s *StringOrSlice) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringOrSlice{single}
		return nil
	}
	var multi []string
	if err := json.Unmarshal(data, &multi); err != nil {
		return fmt.Errorf("%w: expected string or array of strings", ErrInvalidPolicy)
	}
	*s = multi
	return nil
}

func (s StringOrSlice) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

func (s *StringOrSlice) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = StringOrSlice{node.Value}
		return nil
	}
	var multi []string
	if err := node.Decode(&multi); err != nil {
		return err
	}
	*s = multi
	return nil
}

func (s StringOrSlice) MarshalYAML() (interface{}, error) {
	if len(s) == 1 {
		return s[0], nil
	}
	return []string(s), nil
}

// Principal is either the wildcard "*" or a set of AWS principals
type Principal struct {
	Wildcard bool
	AWS      StringOrSlice
}

// AnyPrincipal is the "*" principal used by public statements
func AnyPrincipal() *Principal {
	return &Principal{Wildcard: true}
}

func (p *Principal) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single != "*" {
			return fmt.Errorf("%w: principal string must be \"*\"", ErrInvalidPolicy)
		}
		p.Wildcard = true
		return nil
	}
	var obj struct {
		AWS StringOrSlice `json:"AWS"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: principal: %v", ErrInvalidPolicy, err)
	}
	p.AWS = obj.AWS
	for _, a := range p.AWS {
		if a == "*" {
			p.Wildcard = true
		}
	}
	return nil
}

func (p Principal) MarshalJSON() ([]byte, error) {
	if p.Wildcard && len(p.AWS) == 0 {
		return json.Marshal("*")
	}
	return json.Marshal(map[string]StringOrSlice{"AWS": p.AWS})
}

func (p *Principal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Value != "*" {
			return fmt.Errorf("%w: principal string must be \"*\"", ErrInvalidPolicy)
		}
		p.Wildcard = true
		return nil
	}
	var obj struct {
		AWS StringOrSlice `yaml:"AWS"`
	}
	if err := node.Decode(&obj); err != nil {
		return err
	}
	p.AWS = obj.AWS
	for _, a := range p.AWS {
		if a == "*" {
			p.Wildcard = true
		}
	}
	return nil
}

func (p Principal) MarshalYAML() (interface{}, error) {
	if p.Wildcard && len(p.AWS) == 0 {
		return "*", nil
	}
	return map[string]StringOrSlice{"AWS": p.AWS}, nil
}

// Matches reports whether the principal covers name
func (p *Principal) Matches(name string) bool {
	if p == nil || p.Wildcard {
		return true
	}
	for _, a := range p.AWS {
		if a == name || wildcardMatch(a, name) {
			return true
		}
	}
	return false
}

// Conditions maps an operator (StringEquals, Bool, ...) to key/value tests
type Conditions map[string]map[string]StringOrSlice
