package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(ledgerOpsTotal, reservationsSweptTotal) }

var ledgerOpsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "token_ledger_operations_total",
		Help: "Total ledger state transitions, labeled by outcome.",
	},
	[]string{"op"}, // 'reserved', 'confirmed', 'refunded', 'reserve_aborted', 'recharged'
)

var reservationsSweptTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "token_reservations_swept_total",
		Help: "Reservations force-refunded by the expiry/startup sweeps.",
	},
)

func IncLedgerOp(op string) {
	ledgerOpsTotal.WithLabelValues(norm(op)).Inc()
}

func AddSweptReservations(n int) {
	reservationsSweptTotal.Add(float64(n))
}
