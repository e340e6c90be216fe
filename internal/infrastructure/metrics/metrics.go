package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream health

var StreamMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "stream",
		Name:      "messages_total",
		Help:      "Feed messages received, by message kind",
	},
	[]string{"kind"},
)

var StreamParseErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "stream",
		Name:      "parse_errors_total",
		Help:      "Malformed feed frames dropped",
	},
)

var StreamReconnects = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Reconnection attempts after abnormal close",
	},
)

var StreamConnectErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "stream",
		Name:      "connect_errors_total",
		Help:      "Failed connection attempts",
	},
)

// Detection

var TicksProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "detector",
		Name:      "ticks_total",
		Help:      "Price ticks fed into the pattern detector",
	},
	[]string{"symbol"},
)

var PatternMatches = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "detector",
		Name:      "matches_total",
		Help:      "Pattern matches emitted, by kind",
	},
	[]string{"kind"},
)

// Order lifecycle

var OrderPolls = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "orders",
		Name:      "polls_total",
		Help:      "Order status poll attempts",
	},
)

var OrderOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "orders",
		Name:      "outcomes_total",
		Help:      "Terminal order monitor outcomes",
	},
	[]string{"outcome"},
)

var OrderMonitorDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "sniper",
		Subsystem: "orders",
		Name:      "monitor_duration_seconds",
		Help:      "Wall-clock time from monitor start to terminal outcome",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
	},
)

// Safety

var AlertsRaised = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "safety",
		Name:      "alerts_total",
		Help:      "Alerts raised by threshold evaluation, by severity",
	},
	[]string{"severity"},
)

var RiskScore = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "sniper",
		Subsystem: "safety",
		Name:      "risk_score",
		Help:      "Overall risk score from the latest assessment (0-100)",
	},
)

// Emergency communication

var NotificationAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sniper",
		Subsystem: "emergency",
		Name:      "notification_attempts_total",
		Help:      "Channel delivery attempts, by channel and result",
	},
	[]string{"channel", "result"},
)

var EscalationLevel = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "sniper",
		Subsystem: "emergency",
		Name:      "escalation_level",
		Help:      "Escalation level of the active session (0 when none)",
	},
)
