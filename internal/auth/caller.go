// ABOUTME: Caller identities stamped on outgoing requests.
// ABOUTME: uid=<n> for local users and ssh=<fingerprint> for SSH key holders.

package auth

import (
	"fmt"
	"os"
	"regexp"

	"golang.org/x/crypto/ssh"
)

var callerIDPattern = regexp.MustCompile(`^\w+=[\w.\-:@]+$`)

// ValidCallerID reports whether id has the form kind=value.
func ValidCallerID(id string) bool {
	return callerIDPattern.MatchString(id)
}

// UnixCaller identifies the caller by numeric user ID.
type UnixCaller struct {
	uid int
}

// NewUnixCaller returns the caller for the current process.
func NewUnixCaller() UnixCaller {
	return UnixCaller{uid: os.Getuid()}
}

// CallerID returns uid=<n>.
func (u UnixCaller) CallerID() string { return fmt.Sprintf("uid=%d", u.uid) }

// ValidCallerID reports whether id is well formed.
func (UnixCaller) ValidCallerID(id string) bool { return ValidCallerID(id) }

// SSHCaller identifies the caller by the fingerprint of an SSH public key.
type SSHCaller struct {
	fingerprint string
}

// NewSSHCaller builds a caller from an authorized_keys style public key.
func NewSSHCaller(pubkey ssh.PublicKey) SSHCaller {
	return SSHCaller{fingerprint: ComputeFingerprint(pubkey)}
}

// CallerID returns ssh=<fingerprint>.
func (s SSHCaller) CallerID() string { return "ssh=" + s.fingerprint }

// ValidCallerID reports whether id is well formed.
func (SSHCaller) ValidCallerID(id string) bool { return ValidCallerID(id) }
