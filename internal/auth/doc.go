// Package auth identifies callers and protects the broker's publishing methods.
//
// # Caller Identity
//
// Every request carries a caller ID of the form kind=value:
//
//   - UnixCaller: uid=<numeric user id> of the local process.
//   - SSHCaller: ssh=<sha256 fingerprint> of the caller's SSH public key.
//
// ValidCallerID accepts `^\w+=[\w.\-:@]+$`.
//
// # Signed Publishing
//
// Clients holding an SSH key sign "timestamp|nonce" and send the signature,
// public key, timestamp and nonce as gRPC metadata:
//
//	signer, err := auth.LoadSSHSigner("~/.ssh/id_ed25519")
//	md, err := signer.Sign()
//
// The broker verifies signatures with SSHVerifier. Signatures older than
// five minutes, or more than a minute in the future, are rejected. Nonces are
// remembered in a named cache namespace for the signature lifetime so a
// captured signature cannot be replayed.
//
// # gRPC Interceptors
//
// Authorizer.UnaryInterceptor and Authorizer.StreamInterceptor check the
// listed methods only; other methods pass through untouched. The verified
// fingerprint is available to handlers through CallerFromContext.
package auth
