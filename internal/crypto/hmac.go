package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// HMACAuth signs L2 (API-key) requests against the CLOB.
type HMACAuth struct {
	Key        string
	Secret     string // base64url-encoded
	Passphrase string
}

// NewHMACAuth wraps derived API credentials.
func NewHMACAuth(c domain.Credentials) *HMACAuth {
	return &HMACAuth{Key: c.Key, Secret: c.Secret, Passphrase: c.Passphrase}
}

// L2Headers returns the POLY_* headers for a request signed now.
func (h *HMACAuth) L2Headers(address, method, path, body string) map[string]string {
	return h.L2HeadersAt(address, method, path, body, time.Now().Unix())
}

// L2HeadersAt is L2Headers with a caller-supplied timestamp.
//
// POLY_SIGNATURE = base64url(HMAC-SHA256(base64url-decode(secret), ts+method+path+body))
func (h *HMACAuth) L2HeadersAt(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	mac := hmac.New(sha256.New, decodeSecret(h.Secret))
	mac.Write([]byte(ts + method + path + body))

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    h.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": h.Passphrase,
		"POLY_SIGNATURE":  base64.URLEncoding.EncodeToString(mac.Sum(nil)),
	}
}

// decodeSecret accepts url-safe or standard base64 and falls back to the raw
// bytes so a malformed secret yields a rejected signature instead of a panic.
func decodeSecret(s string) []byte {
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.StdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b
		}
	}
	return []byte(s)
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
