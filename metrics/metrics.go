package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/camden-git/rsvpbackend/errs"
)

const namespace = "rsvp"

var (
	// Operations counts service calls by operation and outcome kind.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Identity, relationship and response operations by outcome.",
	}, []string{"operation", "result"})

	// ImportRows counts guest list rows by outcome.
	ImportRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "import_rows_total",
		Help:      "Guest list import rows by outcome.",
	}, []string{"result"})

	RealtimeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_clients",
		Help:      "Connected admin event feed clients.",
	})
)

// Result is the label value recorded for err.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return errs.KindOf(err).String()
}

// Observe records one call of operation.
func Observe(operation string, err error) {
	Operations.WithLabelValues(operation, Result(err)).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
