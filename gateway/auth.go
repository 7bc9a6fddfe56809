package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// HeaderAPIKey is the header containing the caller's API key identifier.
	HeaderAPIKey = "X-Api-Key"
	// HeaderTimestamp is the unix timestamp (seconds) used when signing.
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce provides replay protection combined with the timestamp.
	HeaderNonce = "X-Nonce"
	// HeaderSignature carries the hex-encoded HMAC-SHA256 signature.
	HeaderSignature = "X-Signature"

	// MaxBodyForSignature is the maximum body size hashed during auth.
	MaxBodyForSignature = 1 << 20
)

var (
	errMissingAuthHeader = errors.New("gateway: missing authentication header")
	errUnknownAPIKey     = errors.New("gateway: unknown api key")
	errStaleTimestamp    = errors.New("gateway: timestamp outside allowed skew")
	errNonceReplay       = errors.New("gateway: nonce already used")
	errBadSignature      = errors.New("gateway: signature mismatch")
)

// Principal represents an authenticated API client.
type Principal struct {
	APIKey string
}

// Authenticator verifies API key + HMAC signatures on incoming requests.
type Authenticator struct {
	secrets map[string]string
	skew    time.Duration
	nowFn   func() time.Time

	nonceMu sync.Mutex
	nonces  map[string]int64
	order   []string
}

// NewAuthenticator builds an Authenticator keyed by API key identifiers
// mapped to their shared secrets.
func NewAuthenticator(secrets map[string]string, skew time.Duration, nowFn func() time.Time) *Authenticator {
	cloned := make(map[string]string, len(secrets))
	for k, v := range secrets {
		cloned[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &Authenticator{
		secrets: cloned,
		skew:    skew,
		nowFn:   nowFn,
		nonces:  make(map[string]int64),
	}
}

// ComputeSignature derives the request signature for the given inputs. The
// body digest is included so signed payloads cannot be swapped in flight.
func ComputeSignature(secret, timestamp, nonce, method, path string, body []byte) string {
	bodyDigest := sha256.Sum256(body)
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s\n%s\n%s\n%s\n%s", timestamp, nonce, strings.ToUpper(method), path, hex.EncodeToString(bodyDigest[:]))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate validates headers and signature, returning the caller
// principal.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) (*Principal, error) {
	apiKey := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	timestamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	signature := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if apiKey == "" || timestamp == "" || nonce == "" || signature == "" {
		return nil, errMissingAuthHeader
	}
	secret, ok := a.secrets[apiKey]
	if !ok {
		return nil, errUnknownAPIKey
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("gateway: invalid timestamp: %w", err)
	}
	now := a.nowFn()
	if diff := now.Unix() - ts; diff > int64(a.skew/time.Second) || diff < -int64(a.skew/time.Second) {
		return nil, errStaleTimestamp
	}
	if !a.recordNonce(apiKey, nonce, now.Unix()) {
		return nil, errNonceReplay
	}
	expected := ComputeSignature(secret, timestamp, nonce, r.Method, r.URL.Path, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, errBadSignature
	}
	return &Principal{APIKey: apiKey}, nil
}

// recordNonce registers the nonce, reporting false on replay. Entries are
// evicted by age, not count: a nonce must stay recorded for twice the
// timestamp skew, since a signed request with a timestamp up to skew in the
// future stays within skew for that long. Beyond the horizon the timestamp
// check alone rejects any replay, so dropping the entry is safe.
func (a *Authenticator) recordNonce(apiKey, nonce string, seenAt int64) bool {
	key := apiKey + ":" + nonce
	horizon := seenAt - 2*int64(a.skew/time.Second)
	a.nonceMu.Lock()
	defer a.nonceMu.Unlock()
	for len(a.order) > 0 {
		oldest := a.order[0]
		if a.nonces[oldest] > horizon {
			break
		}
		a.order = a.order[1:]
		delete(a.nonces, oldest)
	}
	if _, exists := a.nonces[key]; exists {
		return false
	}
	a.nonces[key] = seenAt
	a.order = append(a.order, key)
	return true
}
