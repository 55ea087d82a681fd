package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSlateOp(t *testing.T) {
	before := testutil.ToFloat64(slateOps.WithLabelValues(OpFinalize, "error"))
	SlateOp(OpFinalize, errors.New("x"))
	SlateOp(OpFinalize, nil)
	after := testutil.ToFloat64(slateOps.WithLabelValues(OpFinalize, "error"))
	if after-before != 1 {
		t.Errorf("error counter delta = %v, want 1", after-before)
	}
}

func TestListenerGauge(t *testing.T) {
	ListenerStarted("relay")
	ListenerStarted("relay")
	ListenerStopped("relay")
	if v := testutil.ToFloat64(listenersRunning.WithLabelValues("relay")); v != 1 {
		t.Errorf("running relay listeners = %v, want 1", v)
	}
}
