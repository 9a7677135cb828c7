package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCountsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBooking("booked", 0.01)
	m.ObserveBooking("booked", 0.02)
	m.ObserveBooking("conflict", 0.01)
	m.ObserveReminder("form_check", "sent")
	m.ObserveChannelFailure("sms")
	m.ObserveResponse("visit_confirmed", "web")
	m.ObserveDispatchPass(0.2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("booked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remindersTotal.WithLabelValues("form_check", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.channelFailures.WithLabelValues("sms")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responsesTotal.WithLabelValues("visit_confirmed", "web")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveBooking("booked", 0.1)
	m.ObserveReminder("initial", "sent")
	m.ObserveChannelFailure("email")
	m.ObserveResponse("unknown", "sms")
	m.ObserveDispatchPass(0.1)
}
