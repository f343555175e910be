package state

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Session supplies the identity a token is bound to.
type Session interface {
	// SessionID returns the opaque session identifier.
	SessionID() string
	// Principal returns the authenticated principal name, or "" for
	// anonymous sessions.
	Principal() string
}

// CodecConfig controls envelope behavior.
type CodecConfig struct {
	// Version is embedded in each envelope; tokens with a different
	// version are rejected as tampered.
	Version int
	// MaxAge bounds token lifetime. Zero disables the expiry check.
	MaxAge time.Duration
	// EphemeralKeys lists attribute keys stripped before encoding, in
	// addition to keys recorded as transient by the snapshot builder.
	EphemeralKeys []string
}

// DefaultCodecConfig returns the standard envelope settings.
func DefaultCodecConfig() CodecConfig {
	return CodecConfig{
		Version: 1,
		MaxAge:  24 * time.Hour,
	}
}

// Codec seals snapshots into opaque tokens and opens them again.
//
// The envelope is, inside out: msgpack(wire snapshot), zlib, then a
// plaintext header "version:timestamp:signature:" prepended to the
// compressed bytes, with the HMAC-SHA256 signature computed over
// "version:timestamp:" plus the compressed payload. The whole envelope is
// sealed with AES-256-GCM under the session-derived key and base64url
// encoded. Any integrity failure decodes to ErrTamperedToken; only a
// genuinely stale timestamp yields ErrExpiredToken.
type Codec struct {
	Keys    *KeyRing
	Encoder *Encoder
	Decoder *Decoder
	Config  CodecConfig

	// now is replaceable in tests.
	now func() time.Time
}

// NewCodec builds a codec over a key ring and a shared registry set.
func NewCodec(keys *KeyRing, enc *Encoder, dec *Decoder, cfg CodecConfig) *Codec {
	return &Codec{
		Keys:    keys,
		Encoder: enc,
		Decoder: dec,
		Config:  cfg,
		now:     time.Now,
	}
}

// Encode seals a snapshot into a token bound to sess.
func (c *Codec) Encode(sess Session, snap *Snapshot) (string, error) {
	stripped := c.stripEphemeral(snap)

	wire, err := c.Encoder.EncodeSnapshot(stripped)
	if err != nil {
		return "", err
	}

	packed, err := msgpack.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("state: marshal snapshot: %w", err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(packed); err != nil {
		return "", fmt.Errorf("state: compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("state: compress snapshot: %w", err)
	}
	compressed := buf.Bytes()

	ts := c.now().Unix()
	prefix := fmt.Sprintf("%d:%d:", c.Config.Version, ts)
	sig := c.sign(prefix, compressed)

	envelope := make([]byte, 0, len(prefix)+len(sig)*2+1+len(compressed))
	envelope = append(envelope, prefix...)
	envelope = append(envelope, hex.EncodeToString(sig)...)
	envelope = append(envelope, ':')
	envelope = append(envelope, compressed...)

	sealed, err := c.seal(sess, envelope)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode opens a token previously sealed for sess and reconstructs the
// snapshot. LoadDeps are re-resolved by the decoder; a dependency that has
// since vanished surfaces as ErrStateRefresh.
func (c *Codec) Decode(ctx context.Context, sess Session, token string) (*Snapshot, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrTamperedToken
	}

	envelope, err := c.open(sess, sealed)
	if err != nil {
		return nil, ErrTamperedToken
	}

	version, ts, sig, compressed, ok := splitEnvelope(envelope)
	if !ok || version != c.Config.Version {
		return nil, ErrTamperedToken
	}

	if c.Config.MaxAge > 0 {
		age := c.now().Sub(time.Unix(ts, 0))
		if age > c.Config.MaxAge {
			return nil, ErrExpiredToken
		}
	}

	prefix := fmt.Sprintf("%d:%d:", version, ts)
	if !hmac.Equal(sig, c.sign(prefix, compressed)) {
		return nil, ErrTamperedToken
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, ErrTamperedToken
	}
	packed, err := io.ReadAll(zr)
	if err != nil {
		return nil, ErrTamperedToken
	}

	var wire map[string]any
	if err := msgpack.Unmarshal(packed, &wire); err != nil {
		return nil, ErrTamperedToken
	}

	return c.Decoder.DecodeSnapshot(ctx, wire)
}

func (c *Codec) stripEphemeral(snap *Snapshot) *Snapshot {
	if len(c.Config.EphemeralKeys) == 0 {
		return snap
	}
	out := &Snapshot{
		Component:  snap.Component,
		InstanceID: snap.InstanceID,
		Attrs:      make(map[string]any, len(snap.Attrs)),
		LoadDeps:   snap.LoadDeps,
	}
	drop := make(map[string]bool, len(c.Config.EphemeralKeys))
	for _, k := range c.Config.EphemeralKeys {
		drop[k] = true
	}
	for k, v := range snap.Attrs {
		if !drop[k] {
			out.Attrs[k] = v
		}
	}
	return out
}

func (c *Codec) sign(prefix string, compressed []byte) []byte {
	mac := hmac.New(sha256.New, c.Keys.SignKey())
	mac.Write([]byte(prefix))
	mac.Write(compressed)
	return mac.Sum(nil)
}

func (c *Codec) seal(sess Session, plaintext []byte) ([]byte, error) {
	gcm, err := c.aead(sess)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("state: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *Codec) open(sess Session, sealed []byte) ([]byte, error) {
	gcm, err := c.aead(sess)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, ErrTamperedToken
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (c *Codec) aead(sess Session) (cipher.AEAD, error) {
	key, err := c.Keys.SessionKey(sess.SessionID(), sess.Principal())
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("state: init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// splitEnvelope parses "version:timestamp:sighex:" followed by the raw
// compressed payload. The payload may itself contain ':' bytes, so only
// the first three separators are significant.
func splitEnvelope(envelope []byte) (version int, ts int64, sig, compressed []byte, ok bool) {
	s := string(envelope)

	i := strings.IndexByte(s, ':')
	if i < 0 {
		return 0, 0, nil, nil, false
	}
	j := strings.IndexByte(s[i+1:], ':')
	if j < 0 {
		return 0, 0, nil, nil, false
	}
	j += i + 1
	k := strings.IndexByte(s[j+1:], ':')
	if k < 0 {
		return 0, 0, nil, nil, false
	}
	k += j + 1

	version, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, 0, nil, nil, false
	}
	ts, err = strconv.ParseInt(s[i+1:j], 10, 64)
	if err != nil {
		return 0, 0, nil, nil, false
	}
	sig, err = hex.DecodeString(s[j+1 : k])
	if err != nil || len(sig) != sha256.Size {
		return 0, 0, nil, nil, false
	}
	return version, ts, sig, envelope[k+1:], true
}
