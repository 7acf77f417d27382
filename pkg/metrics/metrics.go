// Package metrics exposes Prometheus instrumentation for the proxy's BLE
// and API-server activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdvertisementsScanned counts raw advertisements observed by the
	// backend, before batching.
	AdvertisementsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btproxyd_advertisements_scanned_total",
		Help: "Total BLE advertisements observed by the scanner",
	})

	// BatchesFlushed counts advertisement batches sent to subscribed
	// clients, labeled by what triggered the flush.
	BatchesFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btproxyd_advertisement_batches_flushed_total",
		Help: "Total advertisement batches flushed to subscribers",
	}, []string{"reason"})

	// GATTOperations counts GATT requests dispatched, labeled by
	// operation and outcome.
	GATTOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btproxyd_gatt_operations_total",
		Help: "Total GATT operations dispatched to the BLE backend",
	}, []string{"operation", "outcome"})

	// ConnectedSlots reports the current number of occupied BLE
	// connection slots.
	ConnectedSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "btproxyd_connected_slots",
		Help: "Number of BLE peripheral connections currently held",
	})

	// SubscribedClients reports the current number of API clients
	// subscribed to Bluetooth advertisement state.
	SubscribedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "btproxyd_subscribed_clients",
		Help: "Number of API clients subscribed to Bluetooth state",
	})

	// AuthenticatedClients reports the current number of authenticated
	// API connections.
	AuthenticatedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "btproxyd_authenticated_clients",
		Help: "Number of authenticated API connections",
	})
)

// Flush reason labels.
const (
	FlushReasonSize    = "size"
	FlushReasonTimeout = "timeout"
)

// GATT operation labels.
const (
	OpGetServices = "get_services"
	OpRead        = "read"
	OpWrite       = "write"
	OpNotify      = "notify"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// IncBatchFlush increments the batch-flush counter for reason.
func IncBatchFlush(reason string) {
	BatchesFlushed.WithLabelValues(reason).Inc()
}

// IncGATTOperation increments the GATT operation counter.
func IncGATTOperation(operation, outcome string) {
	GATTOperations.WithLabelValues(operation, outcome).Inc()
}

// SetConnectedSlots sets the connected-slot gauge.
func SetConnectedSlots(n int) {
	ConnectedSlots.Set(float64(n))
}

// SetSubscribedClients sets the subscribed-client gauge.
func SetSubscribedClients(n int) {
	SubscribedClients.Set(float64(n))
}

// SetAuthenticatedClients sets the authenticated-client gauge.
func SetAuthenticatedClients(n int) {
	AuthenticatedClients.Set(float64(n))
}
