// Package access resolves a key's effective capabilities on a post by
// combining direct and group-based grants into a single bitmask.
package access

import (
	"fmt"
	"strings"
)

// Capability bits. The mask on a grant is an OR of these.
const (
	MaskView         = 0x01
	MaskComment      = 0x02
	MaskManageAccess = 0x08
)

// Presets for common grant shapes.
const (
	MaskViewer    = MaskView
	MaskCommenter = MaskView | MaskComment
	MaskManager   = MaskView | MaskComment | MaskManageAccess
)

const allKnownBits = MaskView | MaskComment | MaskManageAccess

// HasView reports whether the mask carries the view bit.
func HasView(mask int) bool { return mask&MaskView != 0 }

// HasComment reports whether the mask carries the comment bit.
func HasComment(mask int) bool { return mask&MaskComment != 0 }

// HasManageAccess reports whether the mask carries the manage-access bit.
func HasManageAccess(mask int) bool { return mask&MaskManageAccess != 0 }

// InvalidMaskError reports a mask a caller submitted that is zero or
// carries unknown bits.
type InvalidMaskError struct {
	Mask int
}

func (e *InvalidMaskError) Error() string {
	if e.Mask == 0 {
		return "mask must not be zero: use revoke to remove access"
	}
	return fmt.Sprintf("mask %#x carries unknown bits", e.Mask)
}

// ValidateMask rejects zero masks and unknown bits. A zero-mask grant is a
// caller mistake: removing access is done with revoke, not an empty grant.
func ValidateMask(mask int) error {
	if mask == 0 || mask&^allKnownBits != 0 {
		return &InvalidMaskError{Mask: mask}
	}
	return nil
}

// MaskNames renders the bits of a mask for error messages and audit
// metadata, e.g. "view|comment".
func MaskNames(mask int) string {
	var names []string
	if HasView(mask) {
		names = append(names, "view")
	}
	if HasComment(mask) {
		names = append(names, "comment")
	}
	if HasManageAccess(mask) {
		names = append(names, "manage_access")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
