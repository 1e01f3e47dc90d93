package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-Payload-Signature"
	TimestampHeader = "X-Timestamp"
	NonceHeader     = "X-Nonce"

	signaturePrefix = "sha256="
)

// Request carries everything a single verification needs. Verification is
// a pure function of these fields plus the clock, with one side effect:
// the nonce insert into the ReplayCache, at most once per nonce per tenant.
type Request struct {
	TenantID     string
	Headers      http.Header
	Body         []byte
	Query        url.Values
	TenantSecret string
	UseGlobalKey bool
}

// Verifier validates inbound order-push requests: HMAC-SHA256 signature
// over the request body (optionally prefixed with timestamp and nonce),
// bounded timestamp skew, and single-use nonces via a ReplayCache.
//
// Authentication failures never surface as errors; the result is a boolean
// plus a machine-readable reason so the HTTP layer decides the response.
// The reason is scoped to the most recent call and must be cleared by the
// caller after a successful verification when the instance is reused.
type Verifier struct {
	mode         Mode
	globalSecret string
	maxSkew      time.Duration
	replayTTL    time.Duration
	replay       ReplayCache

	lastFailure FailureReason
}

type VerifierConfig struct {
	Mode         Mode
	GlobalSecret string
	MaxSkew      time.Duration
	ReplayTTL    time.Duration
}

func NewVerifier(replay ReplayCache, cfg VerifierConfig) *Verifier {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = 10 * time.Minute
	}
	if cfg.Mode == "" {
		cfg.Mode = ModePermissive
	}
	return &Verifier{
		mode:         cfg.Mode,
		globalSecret: cfg.GlobalSecret,
		maxSkew:      cfg.MaxSkew,
		replayTTL:    cfg.ReplayTTL,
		replay:       replay,
	}
}

// Verify checks the request signature against every accepted encoding.
func (v *Verifier) Verify(ctx context.Context, req Request, now time.Time) bool {
	v.lastFailure = FailureNone

	signature := strings.TrimSpace(req.Headers.Get(SignatureHeader))
	if signature == "" {
		if v.mode == ModeEnforced {
			v.lastFailure = FailureMissingSignature
			return false
		}
		// Unsigned callers pass in permissive mode. Known weak default,
		// kept deliberately for plugin backward compatibility.
		return true
	}

	timestamp := strings.TrimSpace(req.Headers.Get(TimestampHeader))
	nonce := strings.TrimSpace(req.Headers.Get(NonceHeader))

	if timestamp != "" {
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			v.lastFailure = FailureTimestampSkew
			return false
		}
		msgTime := time.Unix(ts, 0)
		if now.Sub(msgTime) > v.maxSkew || msgTime.Sub(now) > v.maxSkew {
			v.lastFailure = FailureTimestampSkew
			return false
		}
	}

	if nonce != "" {
		key := "replay:" + req.TenantID + ":" + nonce
		firstSeen, err := v.replay.InsertIfAbsent(ctx, key, v.replayTTL)
		switch {
		case err != nil && v.mode == ModeEnforced:
			// Enforced mode fails closed: an uncheckable nonce is treated
			// like a replayed one.
			slog.Warn("replay cache unavailable, rejecting", "error", err)
			v.lastFailure = FailureReplayUncheckable
			return false
		case err != nil:
			// Permissive mode keeps ingestion up through a cache outage;
			// the skipped check surfaces in logs.
			slog.Warn("replay cache unavailable, skipping nonce check", "error", err)
		case !firstSeen:
			v.lastFailure = FailureNonceReplay
			return false
		}
	}

	secret := req.TenantSecret
	if req.UseGlobalKey {
		secret = v.globalSecret
	}
	if secret == "" {
		if v.mode == ModeEnforced {
			v.lastFailure = FailureMissingSecret
			return false
		}
		return true
	}

	payload := signedPayload(timestamp, nonce, req.Body, req.Query)
	if matchesAnyCandidate(signature, payload, secret) {
		return true
	}

	v.lastFailure = FailureBadMAC
	return false
}

// LastFailureReason reports why the most recent Verify call failed.
func (v *Verifier) LastFailureReason() FailureReason {
	return v.lastFailure
}

// ClearFailureReason resets the call-scoped reason so a reused instance
// does not leak a stale failure across requests.
func (v *Verifier) ClearFailureReason() {
	v.lastFailure = FailureNone
}

// signedPayload rebuilds the exact byte sequence the sender signed:
// the present timestamp/nonce pieces dot-joined ahead of the body, and a
// canonical query-parameter form when the body is empty.
func signedPayload(timestamp, nonce string, body []byte, query url.Values) []byte {
	base := body
	if len(base) == 0 {
		base = []byte(canonicalQuery(query))
	}

	var b strings.Builder
	if timestamp != "" {
		b.WriteString(timestamp)
		b.WriteByte('.')
	}
	if nonce != "" {
		b.WriteString(nonce)
		b.WriteByte('.')
	}
	b.Write(base)
	return []byte(b.String())
}

func canonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, val := range query[k] {
			pairs = append(pairs, k+"="+val)
		}
	}
	return strings.Join(pairs, "&")
}

// matchesAnyCandidate compares the provided signature against hex, base64,
// sha256=-prefixed, and lowercased encodings of the expected MAC, each in
// constant time.
func matchesAnyCandidate(signature string, payload []byte, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	sum := mac.Sum(nil)

	hexMAC := hex.EncodeToString(sum)
	b64MAC := base64.StdEncoding.EncodeToString(sum)

	candidates := []string{
		hexMAC,
		signaturePrefix + hexMAC,
		b64MAC,
		signaturePrefix + b64MAC,
	}

	lowerSignature := strings.ToLower(signature)
	for _, candidate := range candidates {
		if hmac.Equal([]byte(signature), []byte(candidate)) {
			return true
		}
		if hmac.Equal([]byte(lowerSignature), []byte(strings.ToLower(candidate))) {
			return true
		}
	}
	return false
}
