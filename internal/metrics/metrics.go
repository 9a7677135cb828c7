package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters for booking, reminder dispatch and patient
// responses. A nil *Metrics is valid and records nothing.
type Metrics struct {
	bookingsTotal    *prometheus.CounterVec
	bookingLatency   prometheus.Histogram
	remindersTotal   *prometheus.CounterVec
	channelFailures  *prometheus.CounterVec
	responsesTotal   *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		bookingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "duration_seconds",
			Help:      "Time spent booking a slot, lock wait included",
			Buckets:   prometheus.DefBuckets,
		}),
		remindersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "dispatched_total",
			Help:      "Reminder dispatch outcomes by tier",
		}, []string{"kind", "outcome"}),
		channelFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "channel_failures_total",
			Help:      "Failed deliveries per channel",
		}, []string{"channel"}),
		responsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "responses",
			Name:      "recorded_total",
			Help:      "Patient responses by type and channel",
		}, []string{"response_type", "channel"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "dispatch_pass_seconds",
			Help:      "Duration of one dispatcher pass",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.bookingLatency, m.remindersTotal, m.channelFailures, m.responsesTotal, m.dispatchDuration)
	return m
}

func (m *Metrics) ObserveBooking(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
	m.bookingLatency.Observe(seconds)
}

func (m *Metrics) ObserveReminder(kind, outcome string) {
	if m == nil {
		return
	}
	m.remindersTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveChannelFailure(channel string) {
	if m == nil {
		return
	}
	m.channelFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) ObserveResponse(responseType, channel string) {
	if m == nil {
		return
	}
	m.responsesTotal.WithLabelValues(responseType, channel).Inc()
}

func (m *Metrics) ObserveDispatchPass(seconds float64) {
	if m == nil {
		return
	}
	m.dispatchDuration.Observe(seconds)
}
