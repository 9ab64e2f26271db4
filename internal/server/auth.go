// Package server implements the authentication handshake that admits a
// session to the registry.
package server

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/linechat/internal/password"
	"github.com/Tyrowin/linechat/internal/store"
)

// CredentialStore is the subset of the credential store used by the handshake.
type CredentialStore interface {
	Lookup(username string) (string, bool)
	Exists(username string) bool
	Register(ctx context.Context, username, passwordHash string) error
}

// AuthResult is the outcome of one handshake line.
type AuthResult struct {
	// Reply is the control line sent back to the peer.
	Reply string
	// Username is set only when OK is true.
	Username string
	OK       bool
}

// Authenticator evaluates handshake lines against the credential store. It
// holds no per-session state.
type Authenticator struct {
	store   CredentialStore
	hasher  password.Hasher
	logger  *zap.Logger
	metrics *Metrics

	// decoy is verified for unknown users so a missing account costs the
	// same as a wrong secret.
	decoy string
}

// NewAuthenticator creates an Authenticator. metrics may be nil.
func NewAuthenticator(st CredentialStore, hasher password.Hasher, logger *zap.Logger, metrics *Metrics) (*Authenticator, error) {
	if st == nil || hasher == nil {
		return nil, errors.New("authenticator: store and hasher are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	decoy, err := hasher.Hash("linechat-decoy-secret")
	if err != nil {
		return nil, errors.Wrap(err, "authenticator: hash decoy")
	}
	return &Authenticator{
		store:   st,
		hasher:  hasher,
		logger:  logger,
		metrics: metrics,
		decoy:   decoy,
	}, nil
}

// Handle evaluates one handshake line.
func (a *Authenticator) Handle(ctx context.Context, line string) AuthResult {
	creds, ok := parseCredentials(line)
	if !ok {
		a.record("malformed", ReplyInvalid)
		return AuthResult{Reply: ReplyInvalid}
	}

	var res AuthResult
	switch creds.verb {
	case VerbRegister:
		res = a.register(ctx, creds)
	default:
		res = a.login(creds)
	}
	a.record(creds.verb, res.Reply)
	return res
}

func (a *Authenticator) register(ctx context.Context, creds credentials) AuthResult {
	if a.store.Exists(creds.username) {
		return AuthResult{Reply: ReplyExists}
	}

	digest, err := a.hasher.Hash(creds.secret)
	if err != nil {
		a.logger.Error("Password hashing failed", zap.String("username", creds.username), zap.Error(err))
		return AuthResult{Reply: ReplyInvalid}
	}

	err = a.store.Register(ctx, creds.username, digest)
	switch {
	case err == nil:
		a.logger.Info("User registered", zap.String("username", creds.username))
		return AuthResult{Reply: ReplyRegistered, Username: creds.username, OK: true}
	case errors.Is(err, store.ErrAlreadyExists):
		return AuthResult{Reply: ReplyExists}
	default:
		a.logger.Error("Registration rejected", zap.String("username", creds.username), zap.Error(err))
		return AuthResult{Reply: ReplyInvalid}
	}
}

func (a *Authenticator) login(creds credentials) AuthResult {
	digest, known := a.store.Lookup(creds.username)
	if !known {
		a.hasher.Verify(a.decoy, creds.secret)
		return AuthResult{Reply: ReplyInvalid}
	}
	if !a.hasher.Verify(digest, creds.secret) {
		return AuthResult{Reply: ReplyInvalid}
	}
	return AuthResult{Reply: ReplyLoggedIn, Username: creds.username, OK: true}
}

func (a *Authenticator) record(verb, reply string) {
	if a.metrics != nil {
		a.metrics.AuthAttempts.WithLabelValues(verb, reply).Inc()
	}
}
