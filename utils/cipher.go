package utils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptedPrefix marks a value as encrypted (format: ENC:base64(nonce|ciphertext|tag))
const EncryptedPrefix = "ENC:"

// LegacyPrefix starts every value stored by earlier releases, which used
// CryptoJS passphrase encryption: base64 of the OpenSSL "Salted__" header
// (AES-256-CBC, EVP_BytesToKey with MD5)
const LegacyPrefix = "U2FsdGVkX1"

const legacySaltSize = 8

var legacyMagic = []byte("Salted__")

const (
	keySize          = 32
	pbkdf2Iterations = 100000
)

// keySalt is fixed so the same secret derives the same key across restarts
var keySalt = []byte("chatui/credential-store/v1")

var (
	// ErrInvalidCiphertext indicates the stored value is not in the encrypted format
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	// ErrDecryptionFailed indicates a wrong key or tampered data
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")
)

// Cipher encrypts credentials at rest with AES-256-GCM
type Cipher struct {
	aead   cipher.AEAD
	secret []byte // for values in the legacy passphrase format
}

// NewCipher derives an AES-256 key from secret with PBKDF2-SHA-256
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("encryption secret must not be empty")
	}

	key := pbkdf2.Key([]byte(secret), keySalt, pbkdf2Iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{aead: aead, secret: []byte(secret)}, nil
}

// Encrypt seals plaintext. Empty input stays empty.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt or by the legacy backend
func (c *Cipher) Decrypt(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	if strings.HasPrefix(stored, LegacyPrefix) {
		return c.decryptLegacy(stored)
	}
	if !strings.HasPrefix(stored, EncryptedPrefix) {
		return "", ErrInvalidCiphertext
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(data) < c.aead.NonceSize()+c.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}

	nonce, sealed := data[:c.aead.NonceSize()], data[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// decryptLegacy opens base64("Salted__" | salt | AES-256-CBC ciphertext)
func (c *Cipher) decryptLegacy(stored string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	header := len(legacyMagic) + legacySaltSize
	if len(data) < header+aes.BlockSize || !bytes.HasPrefix(data, legacyMagic) || (len(data)-header)%aes.BlockSize != 0 {
		return "", ErrInvalidCiphertext
	}

	salt, sealed := data[len(legacyMagic):header], data[header:]
	key, iv := evpBytesToKey(c.secret, salt, keySize, aes.BlockSize)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	plaintext := make([]byte, len(sealed))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, sealed)

	plaintext, ok := unpadPKCS7(plaintext)
	if !ok || len(plaintext) == 0 || !utf8.Valid(plaintext) {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// evpBytesToKey is OpenSSL's MD5-based passphrase derivation with one iteration
func evpBytesToKey(password, salt []byte, keyLen, ivLen int) (key, iv []byte) {
	var derived, prev []byte
	for len(derived) < keyLen+ivLen {
		h := md5.New()
		h.Write(prev)
		h.Write(password)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+ivLen]
}

func unpadPKCS7(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}

// Revealed is the outcome of a soft-fail decryption
type Revealed struct {
	Value    string
	Degraded bool  // Value is the stored text, not a plaintext
	Legacy   bool  // Value was decrypted from the legacy format; the next save re-encrypts it
	Err      error // why the value is degraded
}

// Reveal decrypts stored without failing. Values in neither encrypted
// format are returned as-is; values that fail to decrypt are returned
// unchanged with Degraded set.
func (c *Cipher) Reveal(stored string) Revealed {
	legacy := strings.HasPrefix(stored, LegacyPrefix)
	if !legacy && !strings.HasPrefix(stored, EncryptedPrefix) {
		return Revealed{Value: stored}
	}

	plaintext, err := c.Decrypt(stored)
	if err != nil {
		return Revealed{Value: stored, Degraded: true, Err: err}
	}
	return Revealed{Value: plaintext, Legacy: legacy}
}
