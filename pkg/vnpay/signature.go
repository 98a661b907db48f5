package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Parameter names carrying the signature itself. They are excluded from the
// canonical string; the gateway signs everything else.
const (
	ParamSecureHash     = "vnp_SecureHash"
	ParamSecureHashType = "vnp_SecureHashType"
)

// Canonicalize builds the string both sides sign: signature fields and empty
// values removed, remaining pairs URL-encoded (space as '+'), sorted by
// encoded key, joined as k=v with '&'.
func Canonicalize(params map[string]string) string {
	pairs := make([][2]string, 0, len(params))
	for k, v := range params {
		if k == ParamSecureHash || k == ParamSecureHashType || v == "" {
			continue
		}
		pairs = append(pairs, [2]string{url.QueryEscape(k), url.QueryEscape(v)})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(p[1])
	}
	return b.String()
}

// Sign computes the lowercase hex HMAC-SHA512 of the canonical form of params.
func Sign(params map[string]string, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(Canonicalize(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over params (the signature fields may still
// be present; Canonicalize drops them) and compares it to the provided digest.
// A false return is a security failure, not a retryable validation error.
func Verify(params map[string]string, secret, provided string) bool {
	if provided == "" {
		return false
	}
	want := Sign(params, secret)
	got := strings.ToLower(strings.TrimSpace(provided))
	return hmac.Equal([]byte(want), []byte(got))
}
