package qr

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"ms-tiket/internal/models"

	"github.com/skip2/go-qrcode"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var ErrInvalidPass = errors.New("invalid ticket pass")

var passKeyInfo = []byte("tiket.ticket-pass.v1")

// PassGenerator seals ticket passes with XChaCha20-Poly1305 and renders them
// as QR codes. The key is derived from the configured secret with HKDF-SHA256.
type PassGenerator struct {
	aead cipher.AEAD
}

func NewPassGenerator(secret string) (*PassGenerator, error) {
	if secret == "" {
		return nil, errors.New("pass secret is empty")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, passKeyInfo), key); err != nil {
		return nil, fmt.Errorf("derive pass key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &PassGenerator{aead: aead}, nil
}

// EncryptPass returns the URL-safe token embedded in the QR code.
func (q *PassGenerator) EncryptPass(pass models.TicketPass) (string, error) {
	data, err := json.Marshal(pass)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, q.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := q.aead.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// DecryptPass opens a token produced by EncryptPass. Tampered tokens or
// tokens sealed with another secret return ErrInvalidPass.
func (q *PassGenerator) DecryptPass(token string) (models.TicketPass, error) {
	var pass models.TicketPass

	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return pass, fmt.Errorf("%w: %v", ErrInvalidPass, err)
	}
	if len(sealed) < q.aead.NonceSize() {
		return pass, fmt.Errorf("%w: token too short", ErrInvalidPass)
	}

	nonce, ciphertext := sealed[:q.aead.NonceSize()], sealed[q.aead.NonceSize():]
	data, err := q.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return pass, fmt.Errorf("%w: %v", ErrInvalidPass, err)
	}

	if err := json.Unmarshal(data, &pass); err != nil {
		return pass, fmt.Errorf("%w: %v", ErrInvalidPass, err)
	}
	return pass, nil
}

// GeneratePassQR encrypts the pass and encodes the token as a 256px PNG.
func (q *PassGenerator) GeneratePassQR(pass models.TicketPass) ([]byte, error) {
	token, err := q.EncryptPass(pass)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, 256)
}
