package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric exported by this process.
const Namespace = "accounts"

// NewRegistry returns a registry preloaded with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler exposes reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds the user-facing business counters.
type Metrics struct {
	UsersRegistered prometheus.Counter
	UsersUpdated    prometheus.Counter
	CommandsFailed  *prometheus.CounterVec
}

// New creates and registers the business counters on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UsersRegistered: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "users_registered_total",
			Help:      "Total number of users registered",
		}),
		UsersUpdated: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "users_updated_total",
			Help:      "Total number of user profile updates",
		}),
		CommandsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "user_commands_failed_total",
			Help:      "User commands that returned an error, by command and error code",
		}, []string{"command", "code"}),
	}
}

// IncrementUsersRegistered increments the registered users counter by 1
func (m *Metrics) IncrementUsersRegistered() {
	if m == nil {
		return
	}
	m.UsersRegistered.Inc()
}

// IncrementUsersUpdated increments the updated users counter by 1
func (m *Metrics) IncrementUsersUpdated() {
	if m == nil {
		return
	}
	m.UsersUpdated.Inc()
}

// IncrementCommandsFailed records a failed command with its error code.
func (m *Metrics) IncrementCommandsFailed(command, code string) {
	if m == nil {
		return
	}
	m.CommandsFailed.WithLabelValues(command, code).Inc()
}
