// Package relay implements the store-and-forward slate relay: the JSON wire
// protocol, end-to-end envelope encryption, a reconnecting client and the
// in-memory hub served by slaterelay.
package relay

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/slatewallet/pkg/types"
)

// RequestType tags a client request.
type RequestType string

const (
	ReqChallenge   RequestType = "Challenge"
	ReqSubscribe   RequestType = "Subscribe"
	ReqPostSlate   RequestType = "PostSlate"
	ReqUnsubscribe RequestType = "Unsubscribe"
)

// ResponseType tags a hub response.
type ResponseType string

const (
	RespOk        ResponseType = "Ok"
	RespError     ResponseType = "Error"
	RespChallenge ResponseType = "Challenge"
	RespSlate     ResponseType = "Slate"
)

// ErrorKind is the reason carried by an Error response.
type ErrorKind string

const (
	ErrKindUnknown              ErrorKind = "UnknownError"
	ErrKindInvalidRequest       ErrorKind = "InvalidRequest"
	ErrKindInvalidSignature     ErrorKind = "InvalidSignature"
	ErrKindInvalidChallenge     ErrorKind = "InvalidChallenge"
	ErrKindTooManySubscriptions ErrorKind = "TooManySubscriptions"
	ErrKindRecipientOffline     ErrorKind = "RecipientOffline"
)

// Request is a client-to-hub message. Only the fields of its Type are set.
type Request struct {
	Type RequestType `json:"type"`

	// Subscribe, Unsubscribe.
	Address string `json:"address,omitempty"`

	// PostSlate.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	Str  string `json:"str,omitempty"`

	// Subscribe signs the challenge, PostSlate signs str followed by the
	// challenge.
	Signature types.HexBytes `json:"signature,omitempty"`
}

// Response is a hub-to-client message. Only the fields of its Type are set.
type Response struct {
	Type ResponseType `json:"type"`

	// Error.
	Kind        ErrorKind `json:"kind,omitempty"`
	Description string    `json:"description,omitempty"`

	// Challenge (str) and Slate (all four).
	From      string         `json:"from,omitempty"`
	Str       string         `json:"str,omitempty"`
	Signature types.HexBytes `json:"signature,omitempty"`
	Challenge string         `json:"challenge,omitempty"`
}

// ProtocolError is an Error response surfaced to the caller.
type ProtocolError struct {
	Kind        ErrorKind
	Description string
}

func (e *ProtocolError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("relay: %s", e.Kind)
	}
	return fmt.Sprintf("relay: %s: %s", e.Kind, e.Description)
}

func errorResponse(kind ErrorKind, format string, args ...any) Response {
	return Response{Type: RespError, Kind: kind, Description: fmt.Sprintf(format, args...)}
}

func okResponse() Response { return Response{Type: RespOk} }

// ParseRequest decodes and validates a request frame.
func ParseRequest(data []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	switch r.Type {
	case ReqChallenge:
	case ReqSubscribe:
		if r.Address == "" || len(r.Signature) == 0 {
			return nil, fmt.Errorf("subscribe: missing address or signature")
		}
	case ReqUnsubscribe:
		if r.Address == "" {
			return nil, fmt.Errorf("unsubscribe: missing address")
		}
	case ReqPostSlate:
		if r.From == "" || r.To == "" || r.Str == "" || len(r.Signature) == 0 {
			return nil, fmt.Errorf("post: missing field")
		}
	default:
		return nil, fmt.Errorf("unknown request type %q", r.Type)
	}
	return &r, nil
}

// ParseResponse decodes a response frame.
func ParseResponse(data []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	switch r.Type {
	case RespOk, RespError, RespChallenge, RespSlate:
		return &r, nil
	default:
		return nil, fmt.Errorf("unknown response type %q", r.Type)
	}
}

// postMessage is the byte string a PostSlate signature covers.
func postMessage(str, challenge string) []byte {
	return []byte(str + challenge)
}
