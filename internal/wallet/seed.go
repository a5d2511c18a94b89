package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

// SeedFileName is the encrypted seed file inside the data directory.
const SeedFileName = "seed.json"

// seedVersion is the only on-disk format understood by DecryptMnemonic.
const seedVersion = 1

// Seed errors.
var (
	ErrWeakPassword    = errors.New("weak password")
	ErrWrongPassword   = errors.New("failed to decrypt seed (wrong password?)")
	ErrUnsupportedSeed = errors.New("unsupported seed file")
)

// Password length bounds.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 256
)

// KDFParams are the Argon2id cost parameters stored next to the ciphertext.
type KDFParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory_kib"`
	Parallelism uint8  `json:"parallelism"`
	Salt        []byte `json:"salt"`
}

// defaultKDF follows the OWASP Argon2id baseline: 3 passes over 64 MiB.
var defaultKDF = KDFParams{Time: 3, MemoryKiB: 64 * 1024, Parallelism: 4}

const (
	kdfKeyLen  = 32
	kdfSaltLen = 16
)

func (p KDFParams) key(password string) []byte {
	return argon2.IDKey([]byte(password), p.Salt, p.Time, p.MemoryKiB, p.Parallelism, kdfKeyLen)
}

// EncryptedSeed is the JSON document written to SeedFileName.
type EncryptedSeed struct {
	Version    int       `json:"version"`
	KDF        KDFParams `json:"kdf"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

// additionalData binds the ciphertext to the format version.
func (e *EncryptedSeed) additionalData() []byte {
	return []byte(fmt.Sprintf("klingon-htlc/seed/v%d", e.Version))
}

// EncryptMnemonic seals mnemonic under an Argon2id key derived from password
// using AES-256-GCM.
func EncryptMnemonic(mnemonic, password string) (*EncryptedSeed, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	if !ValidateMnemonic(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	kdf := defaultKDF
	kdf.Salt = make([]byte, kdfSaltLen)
	if _, err := rand.Read(kdf.Salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	aead, err := kdf.aead(password)
	if err != nil {
		return nil, err
	}

	seed := &EncryptedSeed{Version: seedVersion, KDF: kdf, Nonce: make([]byte, aead.NonceSize())}
	if _, err := rand.Read(seed.Nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	seed.Ciphertext = aead.Seal(nil, seed.Nonce, []byte(mnemonic), seed.additionalData())
	return seed, nil
}

// DecryptMnemonic opens a seed produced by EncryptMnemonic. Any
// authentication failure is reported as ErrWrongPassword.
func DecryptMnemonic(seed *EncryptedSeed, password string) (string, error) {
	if seed.Version != seedVersion {
		return "", fmt.Errorf("%w: version %d", ErrUnsupportedSeed, seed.Version)
	}
	if seed.KDF.Time == 0 || seed.KDF.MemoryKiB == 0 || seed.KDF.Parallelism == 0 || len(seed.KDF.Salt) == 0 {
		return "", fmt.Errorf("%w: incomplete kdf parameters", ErrUnsupportedSeed)
	}

	aead, err := seed.KDF.aead(password)
	if err != nil {
		return "", err
	}
	if len(seed.Nonce) != aead.NonceSize() {
		return "", fmt.Errorf("%w: nonce length %d", ErrUnsupportedSeed, len(seed.Nonce))
	}
	plain, err := aead.Open(nil, seed.Nonce, seed.Ciphertext, seed.additionalData())
	if err != nil {
		return "", ErrWrongPassword
	}
	defer SecureClear(plain)
	return string(plain), nil
}

func (p KDFParams) aead(password string) (cipher.AEAD, error) {
	key := p.key(password)
	defer SecureClear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// SaveEncryptedSeed writes seed to path with owner-only permissions. The
// file is replaced atomically.
func SaveEncryptedSeed(seed *EncryptedSeed, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(seed, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".seed-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadEncryptedSeed reads a seed file written by SaveEncryptedSeed.
func LoadEncryptedSeed(path string) (*EncryptedSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seed := new(EncryptedSeed)
	if err := json.Unmarshal(data, seed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSeed, err)
	}
	return seed, nil
}

// SecureClear zeroes b.
func SecureClear(b []byte) {
	clear(b)
}

// ValidatePassword requires MinPasswordLength characters with at least one
// letter and one digit.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return fmt.Errorf("%w: at least %d characters required", ErrWeakPassword, MinPasswordLength)
	}
	if n > MaxPasswordLength {
		return fmt.Errorf("%w: at most %d characters allowed", ErrWeakPassword, MaxPasswordLength)
	}

	letter := strings.IndexFunc(password, unicode.IsLetter) >= 0
	digit := strings.IndexFunc(password, unicode.IsDigit) >= 0
	if !letter || !digit {
		return fmt.Errorf("%w: needs letters and digits", ErrWeakPassword)
	}
	return nil
}
