package werr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"sentinel", ErrInsufficientFunds, KindFunds},
		{"wrapped", fmt.Errorf("initiate: %w", ErrInvalidSlate), KindValidation},
		{"entity", Entity(ErrProofInvalid, "tx", "7"), KindCrypto},
		{"detail", Wrap(ErrInvalidState, "finalize before receive"), KindState},
		{"persistence", Persistence("put", errors.New("disk full")), KindPersistence},
		{"plain", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("dial: %w", ErrTransport)) {
		t.Error("transport error should be retryable")
	}
	if !IsRetryable(ErrTimeout) {
		t.Error("timeout should be retryable")
	}
	if IsRetryable(ErrAuth) {
		t.Error("auth error should not be retryable")
	}
	if IsRetryable(ErrSignatureAggregationFailed) {
		t.Error("crypto error should not be retryable")
	}
	if IsRetryable(ErrInvalidState) {
		t.Error("state error should not be retryable")
	}
}

func TestEntity(t *testing.T) {
	err := Entity(ErrInvalidAddress, "address", "xd7abc")
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatal("errors.Is lost the sentinel")
	}
	entity, id, ok := EntityOf(fmt.Errorf("send: %w", err))
	if !ok || entity != "address" || id != "xd7abc" {
		t.Errorf("EntityOf() = %q, %q, %v", entity, id, ok)
	}
	if Entity(nil, "tx", "1") != nil {
		t.Error("Entity(nil) should be nil")
	}
}
