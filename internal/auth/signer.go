// ABOUTME: Client side of signed publishing: signs timestamp|nonce with an SSH key.
// ABOUTME: Produces the gRPC metadata headers SSHVerifier checks.

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
	"google.golang.org/grpc/metadata"
)

// SSHSigner signs publishing requests.
type SSHSigner struct {
	signer ssh.Signer
	pubkey string
	now    func() time.Time
	nonce  func() string
}

// NewSSHSigner wraps an ssh.Signer.
func NewSSHSigner(s ssh.Signer) *SSHSigner {
	return &SSHSigner{
		signer: s,
		pubkey: strings.TrimSpace(string(ssh.MarshalAuthorizedKey(s.PublicKey()))),
		now:    time.Now,
		nonce:  uuid.NewString,
	}
}

// LoadSSHSigner reads an unencrypted private key file.
func LoadSSHSigner(path string) (*SSHSigner, error) {
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	s, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return NewSSHSigner(s), nil
}

// Caller returns the caller identity matching the signing key.
func (s *SSHSigner) Caller() SSHCaller { return NewSSHCaller(s.signer.PublicKey()) }

// Request builds a freshly signed auth request.
func (s *SSHSigner) Request() (*SSHAuthRequest, error) {
	req := &SSHAuthRequest{
		Pubkey:    s.pubkey,
		Timestamp: s.now().Unix(),
		Nonce:     s.nonce(),
	}
	sig, err := s.signer.Sign(rand.Reader, req.SignedMessage())
	if err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}
	req.Signature = base64.StdEncoding.EncodeToString(ssh.Marshal(sig))
	return req, nil
}

// Sign returns metadata carrying a fresh signature.
func (s *SSHSigner) Sign() (metadata.MD, error) {
	req, err := s.Request()
	if err != nil {
		return nil, err
	}
	return metadata.Pairs(
		SSHPubkeyHeader, req.Pubkey,
		SSHSignatureHeader, req.Signature,
		SSHTimestampHeader, strconv.FormatInt(req.Timestamp, 10),
		SSHNonceHeader, req.Nonce,
	), nil
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return home + "/" + rest
		}
	}
	return path
}
