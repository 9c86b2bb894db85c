package core

import (
	"errors"
	"fmt"
)

// Code categorizes registry errors.
type Code string

const (
	// CodeNotFound means the referenced region or overlay id is unknown.
	// Callers treat it as a no-op condition, not a failure.
	CodeNotFound Code = "NOT_FOUND"

	// CodeLockedEntity means the operation tried to remove or replace the
	// locked base region.
	CodeLockedEntity Code = "LOCKED_ENTITY"

	// CodeDuplicateBase means a second base region was installed. This is
	// a programming error, not an expected runtime condition.
	CodeDuplicateBase Code = "DUPLICATE_BASE_REGION"

	// CodeUnknownOverlay means the overlay exists but does not belong to
	// the region named in the call.
	CodeUnknownOverlay Code = "UNKNOWN_OVERLAY"
)

// Error is a typed registry error with the ids involved, so HTTP handlers
// and logs can report which entity the operation tripped over.
type Error struct {
	Code      Code
	Message   string
	RegionID  string
	OverlayID string
}

func (e *Error) Error() string {
	switch {
	case e.RegionID != "" && e.OverlayID != "":
		return fmt.Sprintf("%s: %s (region=%s, overlay=%s)", e.Code, e.Message, e.RegionID, e.OverlayID)
	case e.RegionID != "":
		return fmt.Sprintf("%s: %s (region=%s)", e.Code, e.Message, e.RegionID)
	case e.OverlayID != "":
		return fmt.Sprintf("%s: %s (overlay=%s)", e.Code, e.Message, e.OverlayID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a not-found condition, unwrapping as
// needed.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeNotFound
}

// IsLocked reports whether err is a locked-entity violation.
func IsLocked(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeLockedEntity
}

// IsDuplicateBase reports whether err is a duplicate base region error.
func IsDuplicateBase(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeDuplicateBase
}

func errRegionNotFound(id string) *Error {
	return &Error{Code: CodeNotFound, Message: "region not registered", RegionID: id}
}

func errOverlayNotFound(id string) *Error {
	return &Error{Code: CodeNotFound, Message: "overlay not registered", OverlayID: id}
}

func errLockedRegion(id string) *Error {
	return &Error{Code: CodeLockedEntity, Message: "base region cannot be removed", RegionID: id}
}

func errDuplicateBase(existing, attempted string) *Error {
	return &Error{
		Code:     CodeDuplicateBase,
		Message:  fmt.Sprintf("base region %q already installed", existing),
		RegionID: attempted,
	}
}

func errUnknownOverlay(regionID, overlayID string) *Error {
	return &Error{
		Code:      CodeUnknownOverlay,
		Message:   "overlay does not belong to region",
		RegionID:  regionID,
		OverlayID: overlayID,
	}
}
