package permission

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wolfeidau/keymint/internal/models"
)

// EnvelopeError reports a delegation whose requested permissions fall
// outside what the issuing key may delegate. Missing lists permissions the
// parent does not hold; Forbidden lists permissions a use key may never
// hold. Both are sorted so error messages are stable.
type EnvelopeError struct {
	Missing   []string
	Forbidden []string
}

func (e *EnvelopeError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("not held by parent: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Forbidden) > 0 {
		parts = append(parts, fmt.Sprintf("never allowed on use keys: %s", strings.Join(e.Forbidden, ", ")))
	}
	return "permissions exceed envelope: " + strings.Join(parts, "; ")
}

// ValidateEnvelope decides whether a child key with the given permission
// set may be minted under a parent holding parentPerms.
//
// Every child permission must match the grammar (malformed strings are a
// SyntaxError, not an envelope error). For non-primary key types the child
// set must be a subset of the parent's. For use keys, the catalog's
// forbidden set is an absolute prohibition checked independently of the
// parent's holdings.
func (c Catalog) ValidateEnvelope(childPerms, parentPerms []string, keyType string) error {
	if err := c.ValidateSyntaxAll(childPerms); err != nil {
		return err
	}

	if keyType == models.KeyTypePrimary {
		// Primary keys have no parent; only the grammar applies.
		return nil
	}

	parent := make(map[string]struct{}, len(parentPerms))
	for _, p := range parentPerms {
		parent[p] = struct{}{}
	}

	var violation EnvelopeError
	seen := make(map[string]struct{}, len(childPerms))
	for _, p := range childPerms {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}

		if _, held := parent[p]; !held {
			violation.Missing = append(violation.Missing, p)
		}
		if keyType == models.KeyTypeUse && c.ForbiddenForUse(p) {
			violation.Forbidden = append(violation.Forbidden, p)
		}
	}

	if len(violation.Missing) > 0 || len(violation.Forbidden) > 0 {
		sort.Strings(violation.Missing)
		sort.Strings(violation.Forbidden)
		return &violation
	}

	return nil
}
