package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
	// PBKDF2 iteration count. Changing it invalidates every stored token.
	kdfIterations = 600_000
)

// ErrDecryptionFailed is returned for every decryption failure: malformed
// token, truncated data, wrong secret, or tampered ciphertext. Callers must
// treat it as fatal for that credential rather than substituting a default.
var ErrDecryptionFailed = errors.New("decryption failed: invalid key or tampered data")

// Vault encrypts and decrypts stored credentials with keys derived from a
// process-wide secret. Every encryption uses a fresh salt and nonce, so two
// encryptions of the same plaintext are never equal.
type Vault struct {
	secret string
}

func NewVault(secret string) *Vault {
	return &Vault{secret: secret}
}

func (v *Vault) deriveKey(salt []byte) []byte {
	return pbkdf2.Key([]byte(v.secret), salt, kdfIterations, keySize, sha256.New)
}

// EncryptString encrypts plaintext and returns a base64url token packing
// salt, nonce and ciphertext.
func (v *Vault) EncryptString(plaintext string) (string, error) {
	if v.secret == "" {
		return "", fmt.Errorf("encrypt: secret key not configured")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	block, err := aes.NewCipher(v.deriveKey(salt))
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), nil)

	packed := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	packed = append(packed, salt...)
	packed = append(packed, nonce...)
	packed = append(packed, ciphertext...)

	return base64.URLEncoding.EncodeToString(packed), nil
}

// DecryptString reverses EncryptString. Any failure, including a missing
// process secret, yields ErrDecryptionFailed.
func (v *Vault) DecryptString(token string) (string, error) {
	if v.secret == "" {
		return "", fmt.Errorf("%w: secret key not configured", ErrDecryptionFailed)
	}

	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(data) < saltSize+nonceSize {
		return "", fmt.Errorf("%w: token too short", ErrDecryptionFailed)
	}

	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]
	ciphertext := data[saltSize+nonceSize:]

	block, err := aes.NewCipher(v.deriveKey(salt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}

// HashPassword hashes a password one-way with PBKDF2-HMAC-SHA256 and a random
// salt, mixing in the process secret as additional entropy. Not reversible.
func (v *Vault) HashPassword(password string) (string, error) {
	if v.secret == "" {
		return "", fmt.Errorf("hash password: secret key not configured")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := pbkdf2.Key([]byte(password+v.secret), salt, kdfIterations, keySize, sha256.New)

	packed := make([]byte, 0, saltSize+keySize)
	packed = append(packed, salt...)
	packed = append(packed, hash...)

	return base64.URLEncoding.EncodeToString(packed), nil
}

// VerifyPassword reports whether password matches a HashPassword result.
func (v *Vault) VerifyPassword(password, hashed string) bool {
	if v.secret == "" {
		return false
	}

	data, err := base64.URLEncoding.DecodeString(hashed)
	if err != nil || len(data) != saltSize+keySize {
		return false
	}

	salt := data[:saltSize]
	stored := data[saltSize:]
	hash := pbkdf2.Key([]byte(password+v.secret), salt, kdfIterations, keySize, sha256.New)

	return hmac.Equal(hash, stored)
}
