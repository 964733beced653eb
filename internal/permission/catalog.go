// Package permission holds the permission-string catalog and the envelope
// rules that make key delegation safe. Everything here is pure: no I/O, no
// process-wide mutable state. The catalog is an immutable value injected
// into the key lifecycle manager so tests can swap it.
package permission

import (
	"fmt"
	"strings"
)

// Well-known permission strings.
const (
	PermPostsCreate   = "posts:create"
	PermKeysIssue     = "keys:issue"
	PermCommentsWrite = "comments:write"
)

// Catalog is the static registry of permission-string rules: the grammar
// every permission must satisfy, and the set of permissions a use key may
// never hold.
type Catalog struct {
	forbiddenForUse map[string]struct{}
}

// DefaultCatalog returns the catalog used in production: use keys may
// never create posts or issue keys, regardless of what their parent holds.
func DefaultCatalog() Catalog {
	return NewCatalog([]string{PermPostsCreate, PermKeysIssue})
}

// NewCatalog builds a catalog with the given use-key-forbidden set.
func NewCatalog(forbiddenForUse []string) Catalog {
	m := make(map[string]struct{}, len(forbiddenForUse))
	for _, p := range forbiddenForUse {
		m[p] = struct{}{}
	}
	return Catalog{forbiddenForUse: m}
}

// ForbiddenForUse reports whether perm may never appear on a use key.
func (c Catalog) ForbiddenForUse(perm string) bool {
	_, found := c.forbiddenForUse[perm]
	return found
}

// SyntaxError reports a permission string that does not match the grammar.
// It is caller-input error, distinct from an envelope violation.
type SyntaxError struct {
	Permission string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("malformed permission %q: want resource:action or resource:subresource:action", e.Permission)
}

// ValidateSyntax checks a single permission string against the grammar:
// two or three non-empty lowercase segments separated by colons.
func (c Catalog) ValidateSyntax(perm string) error {
	segments := strings.Split(perm, ":")
	if len(segments) < 2 || len(segments) > 3 {
		return &SyntaxError{Permission: perm}
	}
	for _, seg := range segments {
		if !validSegment(seg) {
			return &SyntaxError{Permission: perm}
		}
	}
	return nil
}

// ValidateSyntaxAll checks every permission in the set, failing on the
// first malformed entry.
func (c Catalog) ValidateSyntaxAll(perms []string) error {
	for _, p := range perms {
		if err := c.ValidateSyntax(p); err != nil {
			return err
		}
	}
	return nil
}

func validSegment(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
