package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Placeholder is returned by DecryptLenient for content that cannot be
// decrypted in either historical format.
const Placeholder = "[encrypted message]"

const keyHexLen = 32

var opensslSaltHeader = []byte("Salted__")

// DecryptionError is returned by the strict Decrypt path. Callers on
// the server-to-server path must treat it as blocking.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decryption failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decryption failed: %s", e.Reason)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// Codec encrypts and decrypts message bodies with a fixed symmetric
// key. It is pure: no I/O, no shared state beyond the key, safe for
// concurrent use.
type Codec struct {
	key        []byte
	passphrase []byte
}

// New builds a Codec from a 32-character hex string (a 16-byte
// AES-128 key). A missing or malformed key is the caller's fatal
// startup condition.
func New(hexKey string) (*Codec, error) {
	if len(hexKey) != keyHexLen {
		return nil, fmt.Errorf("encryption key must be a %d-character hex string, got %d characters", keyHexLen, len(hexKey))
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}

	// The hex string itself doubles as the passphrase for the legacy
	// envelope format, so it is kept alongside the raw key.
	return &Codec{key: key, passphrase: []byte(hexKey)}, nil
}

// Encrypt produces the "ivHex:encryptedHex" envelope with a fresh
// random IV per call.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(encrypted, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(encrypted), nil
}

// Decrypt is the strict path: the input must be an "ivHex:encryptedHex"
// envelope produced with the same key. Any deviation returns a
// *DecryptionError.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	ivHex, encryptedHex, found := strings.Cut(ciphertext, ":")
	if !found || ivHex == "" || encryptedHex == "" {
		return "", &DecryptionError{Reason: "invalid envelope format"}
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", &DecryptionError{Reason: "malformed iv", Err: err}
	}
	if len(iv) != aes.BlockSize {
		return "", &DecryptionError{Reason: "iv is not 16 bytes"}
	}

	encrypted, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return "", &DecryptionError{Reason: "malformed ciphertext", Err: err}
	}
	if len(encrypted) == 0 || len(encrypted)%aes.BlockSize != 0 {
		return "", &DecryptionError{Reason: "ciphertext is not block aligned"}
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", &DecryptionError{Reason: "cipher init", Err: err}
	}

	plaintext := make([]byte, len(encrypted))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, encrypted)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", &DecryptionError{Reason: "bad padding", Err: err}
	}

	return string(unpadded), nil
}

// DecryptLenient is the display path. It tries the strict envelope
// first, then the legacy passphrase envelope, and degrades to
// Placeholder instead of returning an error. It never panics.
func (c *Codec) DecryptLenient(text string) string {
	if plaintext, err := c.Decrypt(text); err == nil {
		return plaintext
	}

	if plaintext, err := c.decryptPassphrase(text); err == nil {
		return plaintext
	}

	return Placeholder
}

// decryptPassphrase handles the self-describing OpenSSL-style envelope
// historical clients produced: base64 of "Salted__" + 8-byte salt +
// ciphertext, with an AES-256 key and IV derived from the passphrase
// and salt by the MD5 EVP_BytesToKey schedule.
func (c *Codec) decryptPassphrase(text string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return "", fmt.Errorf("not base64: %w", err)
	}

	if len(raw) < 32 || !bytes.HasPrefix(raw, opensslSaltHeader) {
		return "", errors.New("missing salt header")
	}

	salt := raw[8:16]
	encrypted := raw[16:]
	if len(encrypted)%aes.BlockSize != 0 {
		return "", errors.New("ciphertext is not block aligned")
	}

	key, iv := evpBytesToKey(c.passphrase, salt, 32, aes.BlockSize)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	plaintext := make([]byte, len(encrypted))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, encrypted)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", err
	}

	// A wrong passphrase occasionally survives the padding check;
	// legacy payloads were always UTF-8, so reject anything that isn't.
	if !utf8.Valid(unpadded) {
		return "", errors.New("plaintext is not utf-8")
	}

	return string(unpadded), nil
}

// evpBytesToKey implements the OpenSSL EVP_BytesToKey derivation with
// MD5 and one iteration, as used by the legacy envelope.
func evpBytesToKey(passphrase, salt []byte, keyLen, ivLen int) (key, iv []byte) {
	var derived []byte
	var prev []byte

	for len(derived) < keyLen+ivLen {
		h := md5.New()
		h.Write(prev)
		h.Write(passphrase)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}

	return derived[:keyLen], derived[keyLen : keyLen+ivLen]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, errors.New("invalid padding byte")
	}

	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("inconsistent padding")
		}
	}

	return data[:len(data)-padding], nil
}
