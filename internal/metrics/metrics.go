package metrics

import (
	"tgclicker/internal/game"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Recorder holds the counters exported on /metrics. It satisfies
// game.Observer.
type Recorder struct {
	economyOps  *prometheus.CounterVec
	broadcasts  *prometheus.CounterVec
	botCommands *prometheus.CounterVec
}

var _ game.Observer = (*Recorder)(nil)

// New registers the counters on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Recorder{
		economyOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clicker_economy_operations_total",
			Help: "Economy operations by name and outcome.",
		}, []string{"op", "outcome"}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clicker_rate_broadcast_messages_total",
			Help: "Rate notification messages by delivery status.",
		}, []string{"status"}),
		botCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clicker_bot_commands_total",
			Help: "Telegram bot commands handled, by bot and command.",
		}, []string{"bot", "command"}),
	}
}

func (r *Recorder) ObserveOp(op string, err error) {
	r.economyOps.WithLabelValues(op, Outcome(err)).Inc()
}

func (r *Recorder) ObserveBroadcast(sent, failed int) {
	r.broadcasts.WithLabelValues("sent").Add(float64(sent))
	r.broadcasts.WithLabelValues("failed").Add(float64(failed))
}

func (r *Recorder) ObserveCommand(bot, command string) {
	r.botCommands.WithLabelValues(bot, command).Inc()
}

// Outcome buckets an operation error into ok, rejected or error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case game.IsDomainError(err):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}
