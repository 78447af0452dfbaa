/**
 * @description
 * Sentinel errors shared by the services layer.
 * State conflicts and authorization mismatches are deliberately NOT errors:
 * they surface as boolean no-op results from conditional updates so a caller
 * (or attacker) cannot distinguish "already moved on" from "not yours".
 */

package services

import "errors"

var (
	// ErrValidation marks malformed input rejected before any state change
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing entity, or one the requester does not own
	ErrNotFound = errors.New("not found")
	// ErrExportBlocked marks an export refused due to active withdrawals
	ErrExportBlocked = errors.New("export blocked by active withdrawals")
	// ErrTransferFailed marks a custody handover the external executor rejected;
	// the account has already been reverted to MANAGED when this is returned
	ErrTransferFailed = errors.New("custody transfer failed")
	// ErrConcurrentUpdate marks a compare-and-swap that kept losing; callers may retry
	ErrConcurrentUpdate = errors.New("concurrent update conflict")
)
