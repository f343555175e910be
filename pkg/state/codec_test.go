package state

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/tetra-web/tetra/pkg/state/refcodec"
)

type testSession struct {
	id        string
	principal string
}

func (s testSession) SessionID() string { return s.id }
func (s testSession) Principal() string { return s.principal }

type counterComponent struct {
	Count int64
	Label string
}

func (c *counterComponent) ComponentName() string { return "counter" }

func (c *counterComponent) StateMap() map[string]any {
	return map[string]any{"count": c.Count, "label": c.Label}
}

func (c *counterComponent) SetStateMap(m map[string]any) {
	if n, ok := asInt64(m["count"]); ok {
		c.Count = n
	}
	if s, ok := m["label"].(string); ok {
		c.Label = s
	}
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()

	keys, err := NewKeyRing(bytes.Repeat([]byte("k"), 32))
	if err != nil {
		t.Fatalf("NewKeyRing() error: %v", err)
	}

	refs := refcodec.NewRegistry()
	components := NewTypeTable()
	components.Register("counter", func() any { return &counterComponent{} })
	objects := NewTypeTable()

	enc := &Encoder{Refs: refs, Components: components, Objects: objects}
	dec := &Decoder{Refs: refs, Components: components, Objects: objects}
	return NewCodec(keys, enc, dec, DefaultCodecConfig())
}

func TestCodec_RoundTrip(t *testing.T) {
	c := newTestCodec(t)
	sess := testSession{id: "sess-1", principal: "alice"}

	when := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	b := NewSnapshotBuilder("dashboard", "dash-1")
	b.Set("title", "Quarterly")
	b.Set("open", true)
	b.Set("limit", 25)
	b.Set("ratio", 0.75)
	b.Set("since", when)
	b.Set("window", 90*time.Second)
	b.Set("price", Decimal("19.99"))
	b.Set("tags", []any{"a", "b"})
	b.Set("meta", map[string]any{"nested": "yes"})
	b.Set("child", &counterComponent{Count: 7, Label: "clicks"})

	token, err := c.Encode(sess, b.Snapshot())
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	got, err := c.Decode(context.Background(), sess, token)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got.Component != "dashboard" || got.InstanceID != "dash-1" {
		t.Fatalf("identity mismatch: got %q/%q", got.Component, got.InstanceID)
	}
	if got.Attrs["title"] != "Quarterly" || got.Attrs["open"] != true {
		t.Fatalf("scalar attrs mismatch: %v", got.Attrs)
	}
	if n, ok := asInt64(got.Attrs["limit"]); !ok || n != 25 {
		t.Fatalf("limit mismatch: got %v", got.Attrs["limit"])
	}
	if got.Attrs["ratio"] != 0.75 {
		t.Fatalf("ratio mismatch: got %v", got.Attrs["ratio"])
	}
	ts, ok := got.Attrs["since"].(time.Time)
	if !ok || !ts.Equal(when) {
		t.Fatalf("since mismatch: got %v", got.Attrs["since"])
	}
	if got.Attrs["window"] != 90*time.Second {
		t.Fatalf("window mismatch: got %v", got.Attrs["window"])
	}
	if got.Attrs["price"] != Decimal("19.99") {
		t.Fatalf("price mismatch: got %v", got.Attrs["price"])
	}
	tags, ok := got.Attrs["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "a" {
		t.Fatalf("tags mismatch: got %v", got.Attrs["tags"])
	}
	meta, ok := got.Attrs["meta"].(map[string]any)
	if !ok || meta["nested"] != "yes" {
		t.Fatalf("meta mismatch: got %v", got.Attrs["meta"])
	}
	child, ok := got.Attrs["child"].(*counterComponent)
	if !ok {
		t.Fatalf("child type mismatch: got %T", got.Attrs["child"])
	}
	if child.Count != 7 || child.Label != "clicks" {
		t.Fatalf("child state mismatch: got %+v", child)
	}
}

func TestCodec_TokenIsOpaque(t *testing.T) {
	c := newTestCodec(t)
	sess := testSession{id: "sess-1", principal: "alice"}

	b := NewSnapshotBuilder("profile", "p-1")
	b.Set("secret_note", "do not leak")
	token, err := c.Encode(sess, b.Snapshot())
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("token is not base64url: %v", err)
	}
	if bytes.Contains(raw, []byte("do not leak")) || bytes.Contains(raw, []byte("profile")) {
		t.Fatal("plaintext attribute data visible in token")
	}
}

func TestCodec_BitFlipRejected(t *testing.T) {
	c := newTestCodec(t)
	sess := testSession{id: "sess-1", principal: "alice"}

	b := NewSnapshotBuilder("profile", "p-1")
	b.Set("role", "viewer")
	token, err := c.Encode(sess, b.Snapshot())
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	raw, _ := base64.RawURLEncoding.DecodeString(token)
	for _, pos := range []int{0, len(raw) / 2, len(raw) - 1} {
		flipped := append([]byte(nil), raw...)
		flipped[pos] ^= 0x01
		bad := base64.RawURLEncoding.EncodeToString(flipped)

		if _, err := c.Decode(context.Background(), sess, bad); !errors.Is(err, ErrTamperedToken) {
			t.Fatalf("flip at %d: got %v, want ErrTamperedToken", pos, err)
		}
	}
}

func TestCodec_GarbageRejected(t *testing.T) {
	c := newTestCodec(t)
	sess := testSession{id: "sess-1", principal: "alice"}

	for _, token := range []string{"", "!!!!not-base64!!!!", "aGVsbG8"} {
		if _, err := c.Decode(context.Background(), sess, token); !errors.Is(err, ErrTamperedToken) {
			t.Fatalf("token %q: got %v, want ErrTamperedToken", token, err)
		}
	}
}

func TestCodec_CrossSessionRejected(t *testing.T) {
	c := newTestCodec(t)

	b := NewSnapshotBuilder("profile", "p-1")
	b.Set("role", "admin")
	token, err := c.Encode(testSession{id: "sess-1", principal: "alice"}, b.Snapshot())
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	cases := []testSession{
		{id: "sess-2", principal: "alice"}, // rotated session
		{id: "sess-1", principal: "mallory"},
	}
	for _, sess := range cases {
		if _, err := c.Decode(context.Background(), sess, token); !errors.Is(err, ErrTamperedToken) {
			t.Fatalf("session %+v: got %v, want ErrTamperedToken", sess, err)
		}
	}
}

func TestCodec_Expiry(t *testing.T) {
	c := newTestCodec(t)
	sess := testSession{id: "sess-1", principal: "alice"}

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	b := NewSnapshotBuilder("profile", "p-1")
	b.Set("x", 1)
	token, err := c.Encode(sess, b.Snapshot())
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	// Exactly at the boundary the token is still valid.
	c.now = func() time.Time { return base.Add(c.Config.MaxAge) }
	if _, err := c.Decode(context.Background(), sess, token); err != nil {
		t.Fatalf("Decode() at boundary: %v", err)
	}

	c.now = func() time.Time { return base.Add(c.Config.MaxAge + time.Second) }
	if _, err := c.Decode(context.Background(), sess, token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("Decode() past boundary: got %v, want ErrExpiredToken", err)
	}
}

func TestCodec_VersionMismatchRejected(t *testing.T) {
	c := newTestCodec(t)
	sess := testSession{id: "sess-1", principal: "alice"}

	b := NewSnapshotBuilder("profile", "p-1")
	b.Set("x", 1)
	token, err := c.Encode(sess, b.Snapshot())
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	c.Config.Version = 2
	if _, err := c.Decode(context.Background(), sess, token); !errors.Is(err, ErrTamperedToken) {
		t.Fatalf("got %v, want ErrTamperedToken", err)
	}
}

func TestCodec_BadSignatureRejected(t *testing.T) {
	c := newTestCodec(t)
	sess := testSession{id: "sess-1", principal: "alice"}

	// Hand-build an envelope whose signature covers different bytes than
	// the payload it carries. Encryption alone must not be trusted.
	compressed := mustCompress(t, []byte("payload"))
	prefix := "1:" + "1767268800" + ":"
	sig := c.sign(prefix, []byte("something else"))

	envelope := []byte(prefix)
	envelope = append(envelope, hexEncode(sig)...)
	envelope = append(envelope, ':')
	envelope = append(envelope, compressed...)

	sealed, err := c.seal(sess, envelope)
	if err != nil {
		t.Fatalf("seal() error: %v", err)
	}

	c.now = func() time.Time { return time.Unix(1767268800, 0) }
	token := base64.RawURLEncoding.EncodeToString(sealed)
	if _, err := c.Decode(context.Background(), sess, token); !errors.Is(err, ErrTamperedToken) {
		t.Fatalf("got %v, want ErrTamperedToken", err)
	}
}

func mustCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("compress: %v", err)
	}
	return buf.Bytes()
}

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

func TestCodec_EphemeralKeysStripped(t *testing.T) {
	c := newTestCodec(t)
	c.Config.EphemeralKeys = []string{"csrf"}
	sess := testSession{id: "sess-1", principal: "alice"}

	b := NewSnapshotBuilder("form", "f-1")
	b.Set("csrf", "one-shot")
	b.Set("name", "Ada")
	token, err := c.Encode(sess, b.Snapshot())
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	got, err := c.Decode(context.Background(), sess, token)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if _, present := got.Attrs["csrf"]; present {
		t.Fatal("ephemeral attribute survived the round trip")
	}
	if got.Attrs["name"] != "Ada" {
		t.Fatalf("name mismatch: got %v", got.Attrs["name"])
	}
}

func TestCodec_TransientLoadValuesStripped(t *testing.T) {
	c := newTestCodec(t)
	sess := testSession{id: "sess-1", principal: "alice"}

	b := NewSnapshotBuilder("report", "r-1")
	b.Set("filter", "active")
	b.LoadPhase(func(r *LoadRecorder) {
		r.Set("rows", []any{"row1", "row2"})
	})

	token, err := c.Encode(sess, b.Snapshot())
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	got, err := c.Decode(context.Background(), sess, token)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if _, present := got.Attrs["rows"]; present {
		t.Fatal("load-phase value was persisted")
	}
	if got.Attrs["filter"] != "active" {
		t.Fatalf("filter mismatch: got %v", got.Attrs["filter"])
	}
}

func TestCodec_VanishedDependencyForcesRefresh(t *testing.T) {
	c := newTestCodec(t)
	sess := testSession{id: "sess-1", principal: "alice"}

	b := NewSnapshotBuilder("editor", "e-1")
	b.Set("post", nil) // the referenced entity resolved to nothing
	b.DependOn("post")

	token, err := c.Encode(sess, b.Snapshot())
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if _, err := c.Decode(context.Background(), sess, token); !errors.Is(err, ErrStateRefresh) {
		t.Fatalf("got %v, want ErrStateRefresh", err)
	}
}

func TestCodec_UnserializableValue(t *testing.T) {
	c := newTestCodec(t)
	sess := testSession{id: "sess-1", principal: "alice"}

	b := NewSnapshotBuilder("bad", "b-1")
	b.Set("conn", make(chan int))

	_, err := c.Encode(sess, b.Snapshot())
	var ue *UnserializableError
	if !errors.As(err, &ue) {
		t.Fatalf("got %v, want UnserializableError", err)
	}
	if ue.Component != "bad" || ue.Key != "conn" {
		t.Fatalf("error does not name the offender: %+v", ue)
	}
}
