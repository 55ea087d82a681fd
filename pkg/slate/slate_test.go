package slate

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

func testParticipant(t *testing.T, id uint8) ParticipantData {
	t.Helper()
	x, _ := crypto.RandomScalar()
	k, _ := crypto.RandomScalar()
	px, err := crypto.PublicBlind(x)
	if err != nil {
		t.Fatal(err)
	}
	pk, err := crypto.PublicBlind(k)
	if err != nil {
		t.Fatal(err)
	}
	return ParticipantData{ID: id, PublicBlindExcess: px, PublicNonce: pk}
}

func encode(t *testing.T, s *Slate) []byte {
	t.Helper()
	data, err := s.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	return data
}

func TestParse_RoundTrip(t *testing.T) {
	s := New(KindSend, 12, 3, 100, 0)
	if err := s.AddParticipant(testParticipant(t, 0)); err != nil {
		t.Fatal(err)
	}
	s.PaymentProof = &PaymentProof{SenderAddress: "a", ReceiverAddress: "b"}

	got, err := Parse(encode(t, s))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if got.ID != s.ID || got.Amount != 12 || got.Fee != 3 || got.Kind != KindSend {
		t.Errorf("Parse() = %+v", got)
	}
	if got.PaymentProof == nil || got.PaymentProof.ReceiverAddress != "b" {
		t.Error("payment proof lost")
	}
	if got.Stage() != StageInitiated {
		t.Errorf("Stage() = %s, want initiated", got.Stage())
	}
}

func TestParse_RejectsUnsupportedVersions(t *testing.T) {
	for _, v := range []uint16{0, 1, 4, 99} {
		s := New(KindSend, 5, 1, 0, 0)
		s.Version = v
		data, _ := json.Marshal(s)
		_, err := Parse(data)
		if !errors.Is(err, werr.ErrInvalidSlate) {
			t.Errorf("version %d: Parse() error = %v, want ErrInvalidSlate", v, err)
		}
	}
}

func TestParse_Invariants(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Slate)
	}{
		{"zero amount", func(s *Slate) { s.Amount = 0 }},
		{"three participants", func(s *Slate) {
			s.ParticipantData = append(s.ParticipantData, testParticipant(t, 0), testParticipant(t, 1), testParticipant(t, 1))
		}},
		{"duplicate id", func(s *Slate) {
			s.ParticipantData = append(s.ParticipantData, testParticipant(t, 0), testParticipant(t, 0))
		}},
		{"id out of range", func(s *Slate) { s.ParticipantData = append(s.ParticipantData, testParticipant(t, 2)) }},
		{"kernel fee mismatch", func(s *Slate) { s.Tx.Kernels[0].Fee = 99 }},
		{"unknown kind", func(s *Slate) { s.Kind = "swap" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(KindSend, 5, 1, 0, 0)
			tt.mutate(s)
			data, _ := json.Marshal(s)
			if _, err := Parse(data); !errors.Is(err, werr.ErrInvalidSlate) {
				t.Fatalf("Parse() error = %v, want ErrInvalidSlate", err)
			}
		})
	}
}

func TestVersion2_StripsKindAndProof(t *testing.T) {
	s := New(KindSend, 5, 1, 0, 0)
	s.Version, s.OrigVersion = 2, 2
	s.PaymentProof = &PaymentProof{SenderAddress: "a", ReceiverAddress: "b"}

	data := encode(t, s)
	if strings.Contains(string(data), "payment_proof") || strings.Contains(string(data), `"kind"`) {
		t.Fatalf("v2 encoding leaked v3 fields: %s", data)
	}
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if got.Kind != KindSend || got.PaymentProof != nil {
		t.Errorf("v2 slate parsed as kind=%q proof=%v", got.Kind, got.PaymentProof)
	}
}

func TestForReply_UsesOrigVersion(t *testing.T) {
	s := New(KindSend, 5, 1, 0, 0)
	s.OrigVersion = 2
	if r := s.ForReply(); r.Version != 2 {
		t.Errorf("ForReply().Version = %d, want 2", r.Version)
	}
}

func TestAddParticipant(t *testing.T) {
	s := New(KindSend, 5, 1, 0, 0)
	if err := s.AddParticipant(testParticipant(t, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddParticipant(testParticipant(t, 0)); !errors.Is(err, werr.ErrInvalidSlate) {
		t.Errorf("duplicate id error = %v", err)
	}
	if err := s.AddParticipant(testParticipant(t, 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddParticipant(testParticipant(t, 1)); !errors.Is(err, werr.ErrInvalidSlate) {
		t.Errorf("third participant error = %v", err)
	}
}

func TestStage(t *testing.T) {
	s := New(KindSend, 5, 1, 0, 0)
	if s.Stage() != StageInvalid {
		t.Errorf("empty slate stage = %s", s.Stage())
	}
	s.AddParticipant(testParticipant(t, 0))
	p1 := testParticipant(t, 1)
	s.AddParticipant(p1)
	if s.Stage() != StageInvalid {
		t.Errorf("unsigned responder stage = %s", s.Stage())
	}
	var sig types.Scalar
	s.Participant(1).PartSig = &sig
	if s.Stage() != StageResponded {
		t.Errorf("stage = %s, want responded", s.Stage())
	}
	s.Tx.Kernels[0].Excess = p1.PublicBlindExcess
	s.Tx.Kernels[0].ExcessSig = make([]byte, crypto.KernelSigSize)
	if s.Stage() != StageFinalized {
		t.Errorf("stage = %s, want finalized", s.Stage())
	}
}

func TestClone_DeepCopy(t *testing.T) {
	s := New(KindInvoice, 5, 1, 0, 0)
	s.AddParticipant(testParticipant(t, 0))
	var sig types.Scalar
	s.ParticipantData[0].PartSig = &sig
	s.PaymentProof = &PaymentProof{ReceiverSignature: []byte{1}}

	c := s.Clone()
	c.ParticipantData[0].PartSig[0] = 9
	c.PaymentProof.ReceiverSignature[0] = 9
	c.Tx.Kernels[0].Fee = 77

	if s.ParticipantData[0].PartSig[0] == 9 || s.PaymentProof.ReceiverSignature[0] == 9 || s.Tx.Kernels[0].Fee == 77 {
		t.Error("Clone shares state with the original")
	}
}
