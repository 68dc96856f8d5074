// Package envelope seals report payloads into transport-safe envelopes and
// opens them again for an authorised viewer.
//
// Every field is encrypted with AES-256-GCM. The envelope carries a single
// random 16-byte IV; the nonce for each field is derived from that IV and the
// field name with HKDF-SHA256, so no (key, nonce) pair is ever reused across
// fields. The field name is also bound as additional data, which stops a
// ciphertext from being moved into a different field.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/whistle/whistle-server/internal/models"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the length of the envelope IV in bytes.
	IVSize = 16

	// DecryptionSentinel replaces content that cannot be opened.
	DecryptionSentinel = "[DECRYPTION ERROR]"
)

var (
	// ErrMissingKey means no encryption key was configured.
	ErrMissingKey = errors.New("envelope: encryption key is not configured")
	// ErrInvalidKey means the configured key is not a 256-bit key.
	ErrInvalidKey = errors.New("envelope: encryption key must be 32 bytes")
	// ErrDecryption covers every key/IV/ciphertext mismatch.
	ErrDecryption = errors.New("envelope: decryption failed")
)

// Field names double as HKDF info and GCM additional data.
const (
	fieldMessage       = "message"
	fieldCategory      = "category"
	fieldPhotoURL      = "photo_url"
	fieldVideoURL      = "video_url"
	fieldVideoMetadata = "video_metadata"
)

const nonceInfoPrefix = "whistle/envelope/v1/"

// Codec encrypts and decrypts report payloads under one key.
type Codec struct {
	aead cipher.AEAD
	rand io.Reader
	now  func() time.Time
}

// NewCodec builds a codec for a 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) == 0 {
		return nil, ErrMissingKey
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidKey, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &Codec{aead: aead, rand: rand.Reader, now: time.Now}, nil
}

// ParseKey decodes a hex-encoded 256-bit key.
func ParseKey(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrMissingKey
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex: %v", ErrInvalidKey, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidKey, len(key))
	}
	return key, nil
}

// GenerateKey returns a fresh hex-encoded key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals every populated field of p into a new envelope.
func (c *Codec) Encrypt(p models.ReportPayload) (*models.EncryptedEnvelope, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	env := &models.EncryptedEnvelope{
		IV:        hex.EncodeToString(iv),
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
	}

	var err error
	if env.EncryptedMessage, err = c.seal(iv, fieldMessage, []byte(p.Message)); err != nil {
		return nil, err
	}
	if env.EncryptedCategory, err = c.seal(iv, fieldCategory, []byte(p.Category)); err != nil {
		return nil, err
	}
	if p.PhotoURL != "" {
		if env.EncryptedPhotoURL, err = c.seal(iv, fieldPhotoURL, []byte(p.PhotoURL)); err != nil {
			return nil, err
		}
	}
	if p.VideoURL != "" {
		if env.EncryptedVideoURL, err = c.seal(iv, fieldVideoURL, []byte(p.VideoURL)); err != nil {
			return nil, err
		}
	}
	if p.VideoMetadata != nil {
		raw, err := json.Marshal(p.VideoMetadata)
		if err != nil {
			return nil, fmt.Errorf("marshal video metadata: %w", err)
		}
		if env.EncryptedVideoMetadata, err = c.seal(iv, fieldVideoMetadata, raw); err != nil {
			return nil, err
		}
	}

	return env, nil
}

// Decrypt opens an envelope. Any failure is reported as ErrDecryption.
func (c *Codec) Decrypt(env *models.EncryptedEnvelope) (*models.ReportPayload, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrDecryption)
	}

	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != IVSize {
		return nil, fmt.Errorf("%w: malformed iv", ErrDecryption)
	}

	var p models.ReportPayload

	msg, err := c.open(iv, fieldMessage, env.EncryptedMessage)
	if err != nil {
		return nil, err
	}
	p.Message = msg

	cat, err := c.open(iv, fieldCategory, env.EncryptedCategory)
	if err != nil {
		return nil, err
	}
	p.Category = models.ReportCategory(cat)

	if env.EncryptedPhotoURL != "" {
		if p.PhotoURL, err = c.open(iv, fieldPhotoURL, env.EncryptedPhotoURL); err != nil {
			return nil, err
		}
	}
	if env.EncryptedVideoURL != "" {
		if p.VideoURL, err = c.open(iv, fieldVideoURL, env.EncryptedVideoURL); err != nil {
			return nil, err
		}
	}
	if env.EncryptedVideoMetadata != "" {
		raw, err := c.open(iv, fieldVideoMetadata, env.EncryptedVideoMetadata)
		if err != nil {
			return nil, err
		}
		var meta models.VideoMetadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("%w: video metadata: %v", ErrDecryption, err)
		}
		p.VideoMetadata = &meta
	}

	return &p, nil
}

// DecryptForDisplay never fails: an envelope that cannot be opened yields a
// sentinel payload so one corrupt report cannot blank a whole listing.
func (c *Codec) DecryptForDisplay(env *models.EncryptedEnvelope) models.ReportPayload {
	p, err := c.Decrypt(env)
	if err != nil {
		return models.ReportPayload{
			Message:  DecryptionSentinel,
			Category: models.CategoryEncrypted,
		}
	}
	return *p
}

func (c *Codec) seal(iv []byte, field string, plaintext []byte) (string, error) {
	nonce, err := c.fieldNonce(iv, field)
	if err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nil, nonce, plaintext, []byte(field))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Codec) open(iv []byte, field, encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not base64", ErrDecryption, field)
	}
	nonce, err := c.fieldNonce(iv, field)
	if err != nil {
		return "", err
	}
	plain, err := c.aead.Open(nil, nonce, sealed, []byte(field))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDecryption, field)
	}
	if !utf8.Valid(plain) {
		return "", fmt.Errorf("%w: %s is not utf-8", ErrDecryption, field)
	}
	return string(plain), nil
}

// fieldNonce derives the per-field GCM nonce from the envelope IV.
func (c *Codec) fieldNonce(iv []byte, field string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	r := hkdf.New(sha256.New, iv, nil, []byte(nonceInfoPrefix+field))
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("derive nonce: %w", err)
	}
	return nonce, nil
}
