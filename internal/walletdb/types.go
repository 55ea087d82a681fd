package walletdb

import (
	"time"

	"github.com/Klingon-tech/slatewallet/internal/keychain"
	"github.com/Klingon-tech/slatewallet/pkg/types"
)

// OutputStatus is the lifecycle position of an owned output.
type OutputStatus string

const (
	// OutputUnconfirmed is created by a pending transaction and not yet on chain.
	OutputUnconfirmed OutputStatus = "Unconfirmed"
	// OutputUnspent is on chain and spendable once confirmed deeply enough.
	OutputUnspent OutputStatus = "Unspent"
	// OutputLocked is reserved as an input of a pending transaction.
	OutputLocked OutputStatus = "Locked"
	// OutputSpent is consumed. It is terminal.
	OutputSpent OutputStatus = "Spent"
)

// outputTransitions lists the permitted status changes.
var outputTransitions = map[OutputStatus][]OutputStatus{
	OutputUnconfirmed: {OutputUnspent},
	OutputUnspent:     {OutputLocked},
	OutputLocked:      {OutputSpent, OutputUnspent},
}

// CanTransition reports whether an output may move from s to next.
func (s OutputStatus) CanTransition(next OutputStatus) bool {
	for _, allowed := range outputTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Output is an output owned by the wallet. Outputs live in an arena keyed
// by commitment; transactions refer to them by commitment only.
type Output struct {
	Commit     types.Commitment `json:"commit"`
	Value      uint64           `json:"value"`
	KeyID      keychain.KeyID   `json:"key_id"`
	Status     OutputStatus     `json:"status"`
	Height     uint64           `json:"height,omitempty"`
	LockHeight uint64           `json:"lock_height,omitempty"`
	TxLogID    *uint64          `json:"tx_log_id,omitempty"`
	IsChange   bool             `json:"is_change,omitempty"`
}

// Confirmations returns the confirmation depth at the given chain tip.
// Outputs without a known height have zero confirmations.
func (o Output) Confirmations(tip uint64) uint64 {
	if o.Height == 0 || o.Height > tip {
		return 0
	}
	return tip - o.Height + 1
}

// IsEligible reports whether the output can be selected as an input.
func (o Output) IsEligible(tip, minConfirmations uint64) bool {
	return o.Status == OutputUnspent && o.Confirmations(tip) >= minConfirmations && o.LockHeight <= tip
}

// TxDirection tells whether the wallet paid or got paid.
type TxDirection string

const (
	DirectionSent     TxDirection = "Sent"
	DirectionReceived TxDirection = "Received"
)

// TxStatus is the lifecycle position of a logged transaction.
type TxStatus string

const (
	StatusCreated   TxStatus = "Created"
	StatusSent      TxStatus = "Sent"
	StatusReceived  TxStatus = "Received"
	StatusFinalized TxStatus = "Finalized"
	StatusCancelled TxStatus = "Cancelled"
	StatusConfirmed TxStatus = "Confirmed"
)

// Rank orders statuses. Updates must strictly increase the rank; the two
// rank-3 statuses are terminal.
func (s TxStatus) Rank() int {
	switch s {
	case StatusCreated:
		return 0
	case StatusSent, StatusReceived:
		return 1
	case StatusFinalized:
		return 2
	case StatusCancelled, StatusConfirmed:
		return 3
	default:
		return -1
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s TxStatus) IsTerminal() bool { return s.Rank() == 3 }

// CanTransition reports whether a transaction may move from s to next.
func (s TxStatus) CanTransition(next TxStatus) bool {
	return s.Rank() >= 0 && next.Rank() > s.Rank()
}

// TxLogEntry is one row of the append-only transaction log.
type TxLogEntry struct {
	ID           uint64             `json:"id"`
	SlateID      string             `json:"slate_id"`
	Direction    TxDirection        `json:"direction"`
	Status       TxStatus           `json:"status"`
	Account      string             `json:"account"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	ConfirmedAt  *time.Time         `json:"confirmed_at,omitempty"`
	Amount       uint64             `json:"amount"`
	Fee          uint64             `json:"fee"`
	Inputs       []types.Commitment `json:"inputs,omitempty"`
	Outputs      []types.Commitment `json:"outputs,omitempty"`
	KernelExcess *types.PublicKey   `json:"kernel_excess,omitempty"`
	Counterparty string             `json:"counterparty,omitempty"`
	Message      string             `json:"message,omitempty"`
	Proof        *StoredProof       `json:"proof,omitempty"`
	Posted       bool               `json:"posted,omitempty"`
}

// HasProof reports whether a complete payment proof is stored.
func (e TxLogEntry) HasProof() bool {
	return e.Proof != nil && len(e.Proof.ReceiverSignature) > 0 && e.KernelExcess != nil
}

// StoredProof holds the payment-proof material captured during the exchange.
type StoredProof struct {
	SenderAddress     string         `json:"sender_address,omitempty"`
	ReceiverAddress   string         `json:"receiver_address"`
	ReceiverSignature types.HexBytes `json:"receiver_signature,omitempty"`
}

// Context is the private state a party keeps between sending its half of a
// slate and finalizing it. It never leaves the wallet.
type Context struct {
	SlateID       string       `json:"slate_id"`
	Account       string       `json:"account"`
	ParticipantID uint8        `json:"participant_id"`
	SecretExcess  types.Scalar `json:"secret_excess"`
	SecretNonce   types.Scalar `json:"secret_nonce"`
	Amount        uint64       `json:"amount"`
	Fee           uint64       `json:"fee"`
}

// Contact maps a nickname to an address.
type Contact struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Account is a named BIP-44 account with its derivation counters.
type Account struct {
	Name           string `json:"name"`
	Index          uint32 `json:"index"`
	NextBlindIndex uint32 `json:"next_blind_index"`
}
