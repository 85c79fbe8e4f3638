// Package session holds the console's credential store: the single source of
// truth for whether a session is established and which credential every
// outgoing request presents.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/regconsole/basicauth"
	"github.com/jmcleod/regconsole/internal/util"
	"github.com/jmcleod/regconsole/storage"
)

const (
	credentialNamespace  = "__session"
	credentialRecordType = "CREDENTIAL"
	// CredentialKey is the fixed record ID of the persisted credential.
	CredentialKey = "authdata"
	credentialAAD = "regconsole:session:" + CredentialKey
)

// ErrInvalidUsername is returned for usernames that cannot be carried in a
// Basic credential.
var ErrInvalidUsername = errors.New("username must not contain a colon")

// CacheClearer drops any authentication cached outside the store, such as
// credentials remembered by a browser. Failures are logged and ignored.
type CacheClearer interface {
	ClearAuthCache() error
}

// CacheClearFunc adapts a function to CacheClearer.
type CacheClearFunc func() error

func (f CacheClearFunc) ClearAuthCache() error { return f() }

// Store keeps the encoded credential in a memguard Enclave and mirrors it to
// a storage.Repository. The in-memory credential and the persisted record are
// only ever changed together under mu.
type Store struct {
	mu           sync.RWMutex
	repo         storage.Repository
	sealingKey   []byte
	credential   *memguard.Enclave
	cacheClearer CacheClearer
	logger       *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithSealingKey seals the persisted credential with AES-256-GCM. The key
// must be 32 bytes. Without it the credential is stored raw.
func WithSealingKey(key []byte) Option {
	return func(s *Store) {
		s.sealingKey = util.CopyBytes(key)
	}
}

// WithCacheClearer registers the hook invoked by ClearCredentials.
func WithCacheClearer(c CacheClearer) Option {
	return func(s *Store) {
		s.cacheClearer = c
	}
}

// NewStore creates a Store and restores any credential persisted in repo.
// A persisted credential that cannot be opened (for example because the
// sealing key differs) is left in place and the store starts logged out;
// see Locked.
func NewStore(repo storage.Repository, opts ...Option) (*Store, error) {
	s := &Store{repo: repo}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "session")
	if s.sealingKey != nil && len(s.sealingKey) != util.AESKeySize {
		return nil, fmt.Errorf("sealing key must be exactly %d bytes, got %d", util.AESKeySize, len(s.sealingKey))
	}
	if err := s.restore(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) restore() error {
	env, err := s.repo.Get(credentialNamespace, credentialRecordType, CredentialKey)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading persisted credential: %w", err)
	}

	data, err := storage.OpenRecord(s.sealingKey, env, []byte(credentialAAD))
	if err != nil || len(data) == 0 {
		s.logger.Warn("persisted credential cannot be opened, starting logged out",
			"scheme", env.Scheme,
			"sealed", env.Scheme == storage.SchemeAES256GCM,
			"error", err,
		)
		return nil
	}
	s.credential = memguard.NewEnclave(data)
	return nil
}

func (s *Store) seal(credential []byte) (*storage.Envelope, error) {
	if s.sealingKey == nil {
		return storage.RawRecord(credential), nil
	}
	return storage.SealRecord(s.sealingKey, credential, []byte(credentialAAD))
}

// SetCredentials encodes the pair, persists it and makes it the default
// authorization for every subsequent request. The pair is not checked
// against the registry; validity shows only when a later request succeeds.
func (s *Store) SetCredentials(username, password string) error {
	if strings.Contains(username, ":") {
		return ErrInvalidUsername
	}
	username = util.Normalize(username)
	credential := []byte(basicauth.Credential(username, util.Normalize(password)))
	defer util.WipeBytes(credential)

	env, err := s.seal(credential)
	if err != nil {
		return fmt.Errorf("sealing credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.Put(credentialNamespace, credentialRecordType, CredentialKey, env); err != nil {
		return fmt.Errorf("persisting credential: %w", err)
	}
	s.credential = memguard.NewEnclave(util.CopyBytes(credential))
	s.logger.Info("credentials set", "username", username)
	return nil
}

// ClearCredentials removes the persisted credential and resets the default
// authorization to basicauth.SentinelHeader. The cache clearer runs last,
// best-effort.
func (s *Store) ClearCredentials() error {
	s.mu.Lock()
	err := s.repo.Delete(credentialNamespace, credentialRecordType, CredentialKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrNamespaceNotFound) {
		s.mu.Unlock()
		return fmt.Errorf("removing persisted credential: %w", err)
	}
	s.credential = nil
	s.mu.Unlock()
	s.logger.Info("credentials cleared")

	if s.cacheClearer != nil {
		if err := s.cacheClearer.ClearAuthCache(); err != nil {
			s.logger.Warn("clearing authentication cache failed", "error", err)
		}
	}
	return nil
}

// IsLoggedIn reports whether a persisted credential exists and this store
// holds it. It says nothing about whether the registry accepts it.
func (s *Store) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential != nil && s.persisted()
}

// Locked reports whether a credential is persisted that this store could not
// open, typically because it was sealed with another key. SetCredentials
// replaces it and ClearCredentials removes it.
func (s *Store) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential == nil && s.persisted()
}

func (s *Store) persisted() bool {
	_, err := s.repo.Get(credentialNamespace, credentialRecordType, CredentialKey)
	return err == nil
}

// Authorization returns the current default Authorization header value.
func (s *Store) Authorization() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	credential, ok := s.openLocked()
	if !ok {
		return basicauth.SentinelHeader
	}
	return basicauth.Header(credential)
}

// Username returns the username of the current credential, or "" when
// logged out. Malformed stored data is decoded best-effort with a warning.
func (s *Store) Username() string {
	s.mu.RLock()
	credential, ok := s.openLocked()
	s.mu.RUnlock()
	if !ok {
		return ""
	}
	decoded, err := basicauth.Decode(credential)
	if err != nil {
		s.logger.Warn("stored credential is malformed", "error", err)
	}
	username, _, _ := strings.Cut(decoded, ":")
	return username
}

func (s *Store) openLocked() (string, bool) {
	if s.credential == nil {
		return "", false
	}
	buf, err := s.credential.Open()
	if err != nil {
		s.logger.Error("opening credential enclave", "error", err)
		return "", false
	}
	defer buf.Destroy()
	return string(buf.Bytes()), true
}
