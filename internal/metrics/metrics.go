// Package metrics exposes wallet counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Slate operations.
const (
	OpInitiate       = "initiate"
	OpReceive        = "receive"
	OpFinalize       = "finalize"
	OpCancel         = "cancel"
	OpRepost         = "repost"
	OpInvoice        = "invoice"
	OpProcessInvoice = "process_invoice"
)

var (
	slateOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slatewallet_slate_operations_total",
		Help: "Slate protocol operations by result",
	}, []string{"op", "result"})

	relayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slatewallet_relay_messages_total",
		Help: "Relay slates sent and received",
	}, []string{"direction"})

	relayReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slatewallet_relay_reconnects_total",
		Help: "Relay reconnect attempts",
	})

	listenersRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "slatewallet_listeners_running",
		Help: "Running listeners by type",
	}, []string{"type"})

	chainTip = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slatewallet_chain_tip_height",
		Help: "Last chain height seen by the updater",
	})

	hubConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slaterelay_connections",
		Help: "Open relay connections",
	})
)

// SlateOp records the outcome of a slate operation.
func SlateOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	slateOps.WithLabelValues(op, result).Inc()
}

// RelaySent counts a slate posted to the relay.
func RelaySent() { relayMessages.WithLabelValues("sent").Inc() }

// RelayReceived counts a slate delivered by the relay.
func RelayReceived() { relayMessages.WithLabelValues("received").Inc() }

// RelayReconnect counts a reconnect attempt.
func RelayReconnect() { relayReconnects.Inc() }

// ListenerStarted and ListenerStopped track running listeners.
func ListenerStarted(typ string) { listenersRunning.WithLabelValues(typ).Inc() }

func ListenerStopped(typ string) { listenersRunning.WithLabelValues(typ).Dec() }

// SetTip records the chain tip.
func SetTip(height uint64) { chainTip.Set(float64(height)) }

// HubConnection adjusts the relay connection gauge by delta.
func HubConnection(delta int) { hubConnections.Add(float64(delta)) }

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
