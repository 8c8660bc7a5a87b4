package beacon

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint hashes the dedup identity of a beacon. The separator keeps
// ("a", "bc") and ("ab", "c") apart.
func Fingerprint(ip, userAgent, trackingID string) string {
	h := sha256.New()
	h.Write([]byte(ip))
	h.Write([]byte{0})
	h.Write([]byte(userAgent))
	h.Write([]byte{0})
	h.Write([]byte(trackingID))
	return hex.EncodeToString(h.Sum(nil))
}

// SessionFromFingerprint derives a stable session id for snippets that do not
// send one.
func SessionFromFingerprint(fp string) string {
	if len(fp) > 32 {
		return fp[:32]
	}
	return fp
}
