package docstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"
)

// Sealer encrypts document bodies at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// ErrOpen is returned when a stored document cannot be decrypted, usually
// because it was sealed for a different identity.
var ErrOpen = errors.New("cannot decrypt document")

// AgeSealer seals bodies to a single X25519 identity.
type AgeSealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewAgeSealer seals to identity's recipient and opens with identity.
func NewAgeSealer(identity *age.X25519Identity) *AgeSealer {
	return &AgeSealer{identity: identity, recipient: identity.Recipient()}
}

// Recipient returns the age1... public key documents are sealed to.
func (s *AgeSealer) Recipient() string {
	return s.recipient.String()
}

func (s *AgeSealer) Seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *AgeSealer) Open(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	return plaintext, nil
}

// LoadOrCreateIdentity reads an age identity file, or generates a new
// identity and writes it with mode 0600 when path does not exist. created
// reports whether a new identity was written.
func LoadOrCreateIdentity(path string) (identity *age.X25519Identity, created bool, err error) {
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		identity, err := parseIdentity(f)
		if err != nil {
			return nil, false, fmt.Errorf("parse identity %s: %w", path, err)
		}
		return identity, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("open identity: %w", err)
	}

	identity, err = age.GenerateX25519Identity()
	if err != nil {
		return nil, false, fmt.Errorf("generating age identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, false, fmt.Errorf("create identity dir: %w", err)
	}
	content := fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
		time.Now().UTC().Format(time.RFC3339), identity.Recipient(), identity)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return nil, false, fmt.Errorf("write identity: %w", err)
	}
	return identity, true, nil
}

func parseIdentity(r io.Reader) (*age.X25519Identity, error) {
	ids, err := age.ParseIdentities(r)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, errors.New("no X25519 identity found")
}
