package schemas

import (
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/target"
)

// -- Error Taxonomy --
//
// Required-path failures propagate as typed errors to the step caller.
// Optional-path failures are absorbed locally and recorded in FilterStats.

// ErrTargetUnavailable is the sentinel matched by errors.Is for any
// TargetUnavailableError. The page or its protocol session is gone; the step
// is fatal for that page and must not be retried internally.
var ErrTargetUnavailable = errors.New("browser target unavailable")

// ErrStaleExtraction indicates the document changed (navigation or reload)
// while an extraction step was in flight. The partial results were discarded.
var ErrStaleExtraction = errors.New("extraction superseded by navigation")

// TargetUnavailableError carries the target that disappeared.
type TargetUnavailableError struct {
	TargetID target.ID
	Cause    error
}

func (e *TargetUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("target %s unavailable: %v", e.TargetID, e.Cause)
	}
	return fmt.Sprintf("target %s unavailable", e.TargetID)
}

func (e *TargetUnavailableError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrTargetUnavailable) match.
func (e *TargetUnavailableError) Is(target error) bool {
	return target == ErrTargetUnavailable
}

// StaleIndexError is returned when a caller references an element index that
// is not present in the latest selector map. The engine does not self-heal
// this; the caller must trigger a fresh extraction before retrying.
type StaleIndexError struct {
	Index int
}

func (e *StaleIndexError) Error() string {
	return fmt.Sprintf("element index %d not present in the current selector map; re-extract before retrying", e.Index)
}

// PartialAcquisitionError records an optional per-frame fetch that failed and
// was degraded to an empty subtree. It is logged and counted, never returned
// from a step.
type PartialAcquisitionError struct {
	FrameID string
	Cause   error
}

func (e *PartialAcquisitionError) Error() string {
	return fmt.Sprintf("frame %s: optional acquisition failed: %v", e.FrameID, e.Cause)
}

func (e *PartialAcquisitionError) Unwrap() error { return e.Cause }

// MalformedNodeError marks a snapshot entry missing required fields. The node
// is skipped with a warning; the tree build continues.
type MalformedNodeError struct {
	NodeIndex int
	Reason    string
}

func (e *MalformedNodeError) Error() string {
	return fmt.Sprintf("malformed snapshot node %d: %s", e.NodeIndex, e.Reason)
}
