// Package slate defines the partial-transaction document two wallets pass
// back and forth to build a transaction. The protocol state is carried by
// the document itself: how many participants have contributed, whether
// their partial signatures are present and whether the kernel is signed.
package slate

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/Klingon-tech/slatewallet/pkg/crypto"
	"github.com/Klingon-tech/slatewallet/pkg/tx"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// Supported wire versions. Version 2 predates invoices and payment proofs.
const (
	MinVersion     uint16 = 2
	MaxVersion     uint16 = 3
	CurrentVersion        = MaxVersion
)

// Kind distinguishes who initiates.
type Kind string

const (
	// KindSend is initiated by the payer.
	KindSend Kind = "send"
	// KindInvoice is initiated by the payee.
	KindInvoice Kind = "invoice"
)

// Stage is the protocol position derived from the slate's contents.
type Stage int

const (
	StageInvalid Stage = iota
	// StageInitiated: one participant, no partial signatures.
	StageInitiated
	// StageResponded: two participants, the responder has signed.
	StageResponded
	// StageFinalized: the kernel carries the aggregate signature.
	StageFinalized
)

func (s Stage) String() string {
	switch s {
	case StageInitiated:
		return "initiated"
	case StageResponded:
		return "responded"
	case StageFinalized:
		return "finalized"
	default:
		return "invalid"
	}
}

// ParticipantData is one party's public contribution.
type ParticipantData struct {
	ID                uint8           `json:"id"`
	PublicBlindExcess types.PublicKey `json:"public_blind_excess"`
	PublicNonce       types.PublicKey `json:"public_nonce"`
	PartSig           *types.Scalar   `json:"part_sig,omitempty"`
	Message           string          `json:"message,omitempty"`
	MessageSig        types.HexBytes  `json:"message_sig,omitempty"`
}

// PaymentProof binds the payment to both parties' addresses. The receiver
// fills in ReceiverSignature when it responds.
type PaymentProof struct {
	SenderAddress     string         `json:"sender_address"`
	ReceiverAddress   string         `json:"receiver_address"`
	ReceiverSignature types.HexBytes `json:"receiver_signature,omitempty"`
}

// Slate is the partial transaction in transit.
type Slate struct {
	Version         uint16            `json:"version"`
	OrigVersion     uint16            `json:"orig_version"`
	ID              uuid.UUID         `json:"id"`
	Kind            Kind              `json:"kind,omitempty"`
	NumParticipants int               `json:"num_participants"`
	Amount          uint64            `json:"amount"`
	Fee             uint64            `json:"fee"`
	Height          uint64            `json:"height"`
	LockHeight      uint64            `json:"lock_height"`
	Offset          types.Scalar      `json:"offset"`
	Tx              tx.Body           `json:"tx"`
	ParticipantData []ParticipantData `json:"participant_data"`
	PaymentProof    *PaymentProof     `json:"payment_proof,omitempty"`
}

// New creates an empty slate with a draft kernel.
func New(kind Kind, amount, fee, height, lockHeight uint64) *Slate {
	draft := tx.New(fee, lockHeight)
	return &Slate{
		Version:         CurrentVersion,
		OrigVersion:     CurrentVersion,
		ID:              uuid.New(),
		Kind:            kind,
		NumParticipants: 2,
		Amount:          amount,
		Fee:             fee,
		Height:          height,
		LockHeight:      lockHeight,
		Tx:              draft.Body,
	}
}

// Parse decodes a slate and rejects unsupported versions and malformed
// participant data. Versions are never coerced.
func Parse(data []byte) (*Slate, error) {
	var peek struct {
		Version uint16 `json:"version"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return nil, fmt.Errorf("%w: %v", werr.ErrInvalidSlate, err)
	}
	if peek.Version < MinVersion || peek.Version > MaxVersion {
		return nil, fmt.Errorf("%w: unsupported version %d (supported %d..%d)",
			werr.ErrInvalidSlate, peek.Version, MinVersion, MaxVersion)
	}

	var s Slate
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", werr.ErrInvalidSlate, err)
	}
	if s.OrigVersion == 0 {
		s.OrigVersion = s.Version
	}
	if s.Version == 2 {
		if s.Kind != "" || s.PaymentProof != nil {
			return nil, fmt.Errorf("%w: version 2 carries no kind or payment proof", werr.ErrInvalidSlate)
		}
		s.Kind = KindSend
	}
	if err := s.Validate(); err != nil {
		return nil, werr.Entity(err, "slate", s.ID.String())
	}
	return &s, nil
}

// Marshal encodes the slate at its own version, dropping fields the
// version does not know.
func (s *Slate) Marshal() ([]byte, error) {
	out := *s
	if out.Version == 2 {
		out.Kind = ""
		out.PaymentProof = nil
	}
	return json.Marshal(&out)
}

// Validate checks the structural invariants of the document.
func (s *Slate) Validate() error {
	if s.Version < MinVersion || s.Version > MaxVersion {
		return fmt.Errorf("%w: unsupported version %d", werr.ErrInvalidSlate, s.Version)
	}
	if s.Kind != KindSend && s.Kind != KindInvoice {
		return fmt.Errorf("%w: unknown kind %q", werr.ErrInvalidSlate, s.Kind)
	}
	if s.NumParticipants != 2 {
		return fmt.Errorf("%w: %d participants, only 2 supported", werr.ErrInvalidSlate, s.NumParticipants)
	}
	if s.Amount == 0 {
		return fmt.Errorf("%w: amount must be positive", werr.ErrInvalidSlate)
	}
	if len(s.ParticipantData) > 2 {
		return fmt.Errorf("%w: %d participant entries", werr.ErrInvalidSlate, len(s.ParticipantData))
	}
	seen := map[uint8]bool{}
	for _, p := range s.ParticipantData {
		if p.ID > 1 {
			return fmt.Errorf("%w: participant id %d", werr.ErrInvalidSlate, p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate participant id %d", werr.ErrInvalidSlate, p.ID)
		}
		seen[p.ID] = true
	}
	if len(s.Tx.Kernels) != 1 {
		return fmt.Errorf("%w: expected 1 kernel, got %d", werr.ErrInvalidSlate, len(s.Tx.Kernels))
	}
	if k := s.Tx.Kernels[0]; k.Fee != s.Fee || k.LockHeight != s.LockHeight {
		return fmt.Errorf("%w: kernel fee/lock height disagree with slate", werr.ErrInvalidSlate)
	}
	return nil
}

// Stage derives the protocol position.
func (s *Slate) Stage() Stage {
	switch {
	case len(s.Tx.Kernels) == 1 && s.Tx.Kernels[0].IsSigned():
		return StageFinalized
	case len(s.ParticipantData) == 1:
		return StageInitiated
	case len(s.ParticipantData) == 2:
		for _, p := range s.ParticipantData {
			if p.ID == 1 && p.PartSig != nil {
				return StageResponded
			}
		}
	}
	return StageInvalid
}

// Participant returns the entry with the given id, or nil.
func (s *Slate) Participant(id uint8) *ParticipantData {
	for i := range s.ParticipantData {
		if s.ParticipantData[i].ID == id {
			return &s.ParticipantData[i]
		}
	}
	return nil
}

// AddParticipant appends p. It fails when the slate is full or the id is taken.
func (s *Slate) AddParticipant(p ParticipantData) error {
	if len(s.ParticipantData) >= s.NumParticipants {
		return fmt.Errorf("%w: slate already has %d participants", werr.ErrInvalidSlate, len(s.ParticipantData))
	}
	if s.Participant(p.ID) != nil {
		return fmt.Errorf("%w: participant %d already present", werr.ErrInvalidSlate, p.ID)
	}
	s.ParticipantData = append(s.ParticipantData, p)
	return nil
}

// NonceSum returns the sum of all public nonces.
func (s *Slate) NonceSum() (crypto.Point, error) {
	keys := make([]types.PublicKey, len(s.ParticipantData))
	for i, p := range s.ParticipantData {
		keys[i] = p.PublicNonce
	}
	return crypto.SumPublicKeys(keys...)
}

// ExcessSum returns the sum of all public blind excesses.
func (s *Slate) ExcessSum() (crypto.Point, error) {
	keys := make([]types.PublicKey, len(s.ParticipantData))
	for i, p := range s.ParticipantData {
		keys[i] = p.PublicBlindExcess
	}
	return crypto.SumPublicKeys(keys...)
}

// KernelMessage returns the digest participants sign.
func (s *Slate) KernelMessage() types.Hash {
	return tx.NewKernel(s.Fee, s.LockHeight).Message()
}

// Transaction returns the slate's transaction with the offset applied.
func (s *Slate) Transaction() *tx.Transaction {
	t := &tx.Transaction{Offset: s.Offset, Body: s.Tx}
	return t.Clone()
}

// SetTransaction replaces the body and offset.
func (s *Slate) SetTransaction(t *tx.Transaction) {
	c := t.Clone()
	s.Offset = c.Offset
	s.Tx = c.Body
}

// Clone returns a deep copy.
func (s *Slate) Clone() *Slate {
	c := *s
	c.Tx = s.Transaction().Body
	c.ParticipantData = slices.Clone(s.ParticipantData)
	for i := range c.ParticipantData {
		if sig := c.ParticipantData[i].PartSig; sig != nil {
			v := *sig
			c.ParticipantData[i].PartSig = &v
		}
		c.ParticipantData[i].MessageSig = slices.Clone(c.ParticipantData[i].MessageSig)
	}
	if s.PaymentProof != nil {
		p := *s.PaymentProof
		p.ReceiverSignature = slices.Clone(p.ReceiverSignature)
		c.PaymentProof = &p
	}
	return &c
}

// ForReply returns a copy downgraded to the version the originator speaks.
func (s *Slate) ForReply() *Slate {
	c := s.Clone()
	c.Version = c.OrigVersion
	return c
}
