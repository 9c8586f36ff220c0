// Package signature produces and verifies the Metorial-Signature header:
// "t=<unix seconds>,v1=<hex HMAC-SHA256 of "<t>.<body>">".
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Scheme is the only signature scheme currently emitted.
const Scheme = "v1"

// DefaultTolerance bounds clock skew accepted by Verify.
const DefaultTolerance = 5 * time.Minute

var (
	ErrMalformedHeader        = errors.New("signature: malformed header")
	ErrTimestampOutsideWindow = errors.New("signature: timestamp outside allowed window")
	ErrInvalidSignature       = errors.New("signature: invalid signature")
)

// Sign returns the header value for body signed with secret at ts. A zero
// ts signs at the current time.
func Sign(body []byte, secret string, ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + "," + Scheme + "=" + hex.EncodeToString(mac(secret, t, body))
}

func mac(secret, t string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(t))
	h.Write([]byte{'.'})
	h.Write(body)
	return h.Sum(nil)
}

// Verify checks header against body and secret. A non-positive tolerance
// disables the timestamp window check.
func Verify(header string, body []byte, secret string, now time.Time, tolerance time.Duration) error {
	var t, sig string
	for _, part := range strings.Split(strings.TrimSpace(header), ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return ErrMalformedHeader
		}
		switch k {
		case "t":
			t = v
		case Scheme:
			sig = v
		}
	}
	if t == "" || sig == "" {
		return ErrMalformedHeader
	}

	unix, err := strconv.ParseInt(t, 10, 64)
	if err != nil {
		return ErrMalformedHeader
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(unix, 0))
		if skew > tolerance || skew < -tolerance {
			return ErrTimestampOutsideWindow
		}
	}

	provided, err := hex.DecodeString(sig)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(provided, mac(secret, t, body)) {
		return ErrInvalidSignature
	}
	return nil
}
