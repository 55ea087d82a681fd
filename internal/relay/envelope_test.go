package relay

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return k
}

func TestEnvelope_RoundTrip(t *testing.T) {
	dest, sender := mustKey(t), mustKey(t)
	senderPub := sender.PubKey()
	payload := []byte(`{"id":"slate"}`)

	env, err := Seal(payload, dest.PubKey(), &senderPub)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	str, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	parsed, err := ParseEnvelope(str)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	got, err := Open(parsed, dest)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
	if bytes.Contains([]byte(str), payload) {
		t.Error("envelope carries the plaintext")
	}
}

func TestEnvelope_Tamper(t *testing.T) {
	dest, sender, other := mustKey(t), mustKey(t), mustKey(t)
	senderPub, otherPub := sender.PubKey(), other.PubKey()

	tests := []struct {
		name   string
		mutate func(e *Envelope)
		key    *crypto.PrivateKey
	}{
		{"ciphertext", func(e *Envelope) { e.Ciphertext[0] ^= 1 }, dest},
		{"salt", func(e *Envelope) { e.Salt[0] ^= 1 }, dest},
		{"nonce", func(e *Envelope) { e.Nonce[0] ^= 1 }, dest},
		{"sender swapped", func(e *Envelope) { e.Sender = &otherPub }, dest},
		{"sender dropped", func(e *Envelope) { e.Sender = nil }, dest},
		{"short nonce", func(e *Envelope) { e.Nonce = e.Nonce[:12] }, dest},
		{"wrong key", func(e *Envelope) {}, other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Seal([]byte("payload"), dest.PubKey(), &senderPub)
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			tt.mutate(env)
			_, err = Open(env, tt.key)
			if !errors.Is(err, werr.ErrDecrypt) {
				t.Fatalf("Open err = %v, want ErrDecrypt", err)
			}
			if werr.KindOf(err) != werr.KindCrypto {
				t.Errorf("kind = %v, want crypto", werr.KindOf(err))
			}
		})
	}
}

func TestParseEnvelope_Garbage(t *testing.T) {
	if _, err := ParseEnvelope("not json"); !errors.Is(err, werr.ErrDecrypt) {
		t.Fatalf("err = %v, want ErrDecrypt", err)
	}
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"challenge", `{"type":"Challenge"}`, false},
		{"subscribe", `{"type":"Subscribe","address":"x","signature":"00"}`, false},
		{"subscribe without signature", `{"type":"Subscribe","address":"x"}`, true},
		{"post", `{"type":"PostSlate","from":"a","to":"b","str":"s","signature":"00"}`, false},
		{"post without to", `{"type":"PostSlate","from":"a","str":"s","signature":"00"}`, true},
		{"unsubscribe", `{"type":"Unsubscribe","address":"x"}`, false},
		{"unknown", `{"type":"Shout"}`, true},
		{"garbage", `{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBackoff_Bounds(t *testing.T) {
	base, max := 1_000_000, 32_000_000
	for retries := 0; retries < 40; retries++ {
		d := backoff(1_000_000, 32_000_000, retries)
		want := base << min(retries, 5)
		if want > max {
			want = max
		}
		if int(d) < want || int(d) > want+want/4 {
			t.Errorf("retries=%d: backoff %d outside [%d, %d]", retries, d, want, want+want/4)
		}
	}
}
