// Package webhook implements the inbound order-push trust boundary:
// HMAC signature verification with timestamp-skew and nonce-replay
// protection, and the handler that upserts verified orders.
package webhook

import "errors"

var (
	ErrTenantEmpty = errors.New("tenant id is required")
	ErrKeyEmpty    = errors.New("replay cache key is required")
)

// FailureReason is the machine-readable cause of a verification failure.
// It never carries secret or signature material.
type FailureReason string

const (
	FailureNone              FailureReason = ""
	FailureMissingSignature  FailureReason = "missing_signature"
	FailureMissingSecret     FailureReason = "missing_secret"
	FailureTimestampSkew     FailureReason = "timestamp_skew"
	FailureNonceReplay       FailureReason = "nonce_replay"
	FailureReplayUncheckable FailureReason = "replay_uncheckable"
	FailureBadMAC            FailureReason = "bad_mac"
)

// Mode controls how unsigned or unconfigured requests are handled.
// Permissive preserves the historical opt-in behavior: a request with no
// signature header, or a tenant with no secret configured, passes. Enforced
// fails both closed.
type Mode string

const (
	ModePermissive Mode = "permissive"
	ModeEnforced   Mode = "enforced"
)

// ParseMode maps a config string to a Mode, defaulting to permissive.
func ParseMode(s string) Mode {
	if s == string(ModeEnforced) {
		return ModeEnforced
	}
	return ModePermissive
}
