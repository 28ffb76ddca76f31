// ABOUTME: SSH public key signature verification for publishing clients
// ABOUTME: Verifies signatures over timestamp|nonce and rejects replayed nonces

package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/2389/coven-rpc/internal/cache"
)

const (
	// SSHAuthMaxAge is the maximum age of a signature timestamp (5 minutes).
	SSHAuthMaxAge = 5 * time.Minute

	// SSHClockSkew is how far in the future a timestamp may be.
	SSHClockSkew = time.Minute

	// NonceNamespace is the cache namespace holding used nonces.
	NonceNamespace = "auth_nonces"

	// SSH auth metadata keys.
	SSHPubkeyHeader    = "x-ssh-pubkey"
	SSHSignatureHeader = "x-ssh-signature"
	SSHTimestampHeader = "x-ssh-timestamp"
	SSHNonceHeader     = "x-ssh-nonce"
)

var (
	ErrInvalidSignature = errors.New("invalid ssh signature")
	ErrExpiredSignature = errors.New("ssh signature expired")
	ErrReplayedNonce    = errors.New("nonce already used")
)

// SSHAuthRequest contains the signed fields a client sends.
type SSHAuthRequest struct {
	Pubkey    string // authorized_keys format, e.g. "ssh-ed25519 AAAA..."
	Signature string // base64 of the wire-format ssh.Signature over "timestamp|nonce"
	Timestamp int64
	Nonce     string
}

// SignedMessage returns the bytes the signature covers.
func (r *SSHAuthRequest) SignedMessage() []byte {
	return fmt.Appendf(nil, "%d|%s", r.Timestamp, r.Nonce)
}

// SSHVerifier verifies SSH signatures.
type SSHVerifier struct {
	maxAge time.Duration
	nonces *cache.Cache
	now    func() time.Time
}

// NewSSHVerifier creates a verifier that records nonces in c.
func NewSSHVerifier(c *cache.Cache) *SSHVerifier {
	c.Setup(NonceNamespace, SSHAuthMaxAge+SSHClockSkew)
	return &SSHVerifier{
		maxAge: SSHAuthMaxAge,
		nonces: c,
		now:    time.Now,
	}
}

// Verify checks the SSH signature and returns the pubkey fingerprint if valid.
func (v *SSHVerifier) Verify(req *SSHAuthRequest) (fingerprint string, err error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(req.Pubkey))
	if err != nil {
		return "", fmt.Errorf("%w: public key: %v", ErrInvalidSignature, err)
	}

	age := v.now().Sub(time.Unix(req.Timestamp, 0))
	if age < -SSHClockSkew {
		return "", fmt.Errorf("%w: timestamp is in the future", ErrExpiredSignature)
	}
	if age > v.maxAge {
		return "", fmt.Errorf("%w: age %v exceeds %v", ErrExpiredSignature, age, v.maxAge)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return "", fmt.Errorf("%w: encoding: %v", ErrInvalidSignature, err)
	}
	sig := new(ssh.Signature)
	if err := ssh.Unmarshal(sigBytes, sig); err != nil {
		return "", fmt.Errorf("%w: format: %v", ErrInvalidSignature, err)
	}
	if err := pubkey.Verify(req.SignedMessage(), sig); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	// The key includes the fingerprint so one client's nonce cannot block another's.
	fp := ComputeFingerprint(pubkey)
	nonceKey := fmt.Sprintf("%s:%d:%s", fp, req.Timestamp, req.Nonce)
	err = v.nonces.WithLock(NonceNamespace, func(tx *cache.Txn) error {
		if tx.IsValid(nonceKey) {
			return ErrReplayedNonce
		}
		_, err := tx.Put(nonceKey, struct{}{})
		return err
	})
	if err != nil {
		return "", err
	}
	return fp, nil
}

// ComputeFingerprint computes the SHA256 fingerprint of a public key.
// Returns lowercase hex encoding without colons.
func ComputeFingerprint(pubkey ssh.PublicKey) string {
	hash := sha256.Sum256(pubkey.Marshal())
	return hex.EncodeToString(hash[:])
}

// ParseFingerprintFromKey parses a public key string and returns its fingerprint.
func ParseFingerprintFromKey(pubkeyStr string) (string, error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubkeyStr))
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}
	return ComputeFingerprint(pubkey), nil
}

// ExtractSSHAuthFromMetadata extracts SSH auth fields from gRPC metadata.
// Returns nil if no SSH auth headers are present.
func ExtractSSHAuthFromMetadata(md map[string][]string) *SSHAuthRequest {
	first := func(key string) string {
		if vals, ok := md[key]; ok && len(vals) > 0 {
			return strings.TrimSpace(vals[0])
		}
		return ""
	}

	pubkey := first(SSHPubkeyHeader)
	signature := first(SSHSignatureHeader)
	timestampStr := first(SSHTimestampHeader)
	nonce := first(SSHNonceHeader)
	if pubkey == "" && signature == "" && timestampStr == "" && nonce == "" {
		return nil
	}

	timestamp, _ := strconv.ParseInt(timestampStr, 10, 64)
	return &SSHAuthRequest{
		Pubkey:    pubkey,
		Signature: signature,
		Timestamp: timestamp,
		Nonce:     nonce,
	}
}
