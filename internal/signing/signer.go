// Package signing makes persisted session files tamper-evident. Files are
// signed with HMAC-SHA256 under a machine-local key derived once per process
// through scrypt and cached; verification uses constant-time comparison.
//
// The key never leaves the machine and is never written to disk; only the
// random salt is persisted, so the signature binds a file to this machine and
// user without creating a portable secret.
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/crypto/scrypt"

	"atelier/internal/errors"
	"atelier/internal/logging"
)

const (
	saltFile = "signing.salt"
	saltLen  = 32
	keyLen   = 32

	// scrypt cost parameters. N is deliberately high: the derivation runs
	// once per process and the result is cached.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Signer derives and caches the machine signing key and computes/verifies
// HMAC-SHA256 signatures. Safe for concurrent use.
type Signer struct {
	stateDir string

	once sync.Once
	key  []byte
	err  error
}

// NewSigner creates a Signer whose salt lives under stateDir. The key is not
// derived until first use.
func NewSigner(stateDir string) *Signer {
	return &Signer{stateDir: stateDir}
}

// key material: machine identity + per-install random salt, stretched
// through scrypt. Hostname and uid keep keys distinct across users sharing
// a machine-id.
func (s *Signer) deriveKey() ([]byte, error) {
	timer := logging.StartTimer(logging.CategoryPersist, "signing key derivation")
	defer timer.Stop()

	salt, err := s.loadOrCreateSalt()
	if err != nil {
		return nil, err
	}

	material := machineIdentity()
	key, err := scrypt.Key(material, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, errors.Internal("derive signing key", err)
	}
	return key, nil
}

func machineIdentity() []byte {
	hostname, _ := os.Hostname()
	identity := hostname + ":" + strconv.Itoa(os.Getuid())
	if id, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity += ":" + string(id)
	}
	return []byte(identity)
}

func (s *Signer) loadOrCreateSalt() ([]byte, error) {
	path := filepath.Join(s.stateDir, saltFile)

	salt, err := os.ReadFile(path)
	if err == nil && len(salt) == saltLen {
		return salt, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Internal("read signing salt", err)
	}

	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Internal("generate signing salt", err)
	}
	if err := os.MkdirAll(s.stateDir, 0755); err != nil {
		return nil, errors.Internal("create state dir", err)
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, errors.Internal("write signing salt", err)
	}
	logging.Persist("created signing salt at %s", path)
	return salt, nil
}

// Key returns the cached signing key, deriving it on first call.
func (s *Signer) Key() ([]byte, error) {
	s.once.Do(func() {
		s.key, s.err = s.deriveKey()
	})
	return s.key, s.err
}

// Sign returns the hex HMAC-SHA256 signature of data.
func (s *Signer) Sign(data []byte) (string, error) {
	key, err := s.Key()
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks signature against data in constant time. A missing or
// mismatched signature is an IntegrityError, never a silent pass.
func (s *Signer) Verify(data []byte, signature string) error {
	if signature == "" {
		return &errors.IntegrityError{Err: fmt.Errorf("missing signature: %w", errors.ErrSignatureInvalid)}
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return &errors.IntegrityError{Err: fmt.Errorf("malformed signature: %w", errors.ErrSignatureInvalid)}
	}
	key, err := s.Key()
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	if !hmac.Equal(mac.Sum(nil), want) {
		return &errors.IntegrityError{Err: errors.ErrSignatureInvalid}
	}
	return nil
}
