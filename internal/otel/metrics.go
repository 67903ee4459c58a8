package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds every metric instrument the bridge engine emits.
type Metrics struct {
	MessagesForwarded  metric.Int64Counter
	TransportErrors    metric.Int64Counter
	ReconnectAttempts  metric.Int64Counter
	ReconnectSuccesses metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.MessagesForwarded, err = meter.Int64Counter("bridge.messages.forwarded",
		metric.WithDescription("Messages forwarded between server and client transports"),
	)
	if err != nil {
		return nil, err
	}

	m.TransportErrors, err = meter.Int64Counter("bridge.transport.errors",
		metric.WithDescription("Transport errors observed on inbound streams or sends"),
	)
	if err != nil {
		return nil, err
	}

	m.ReconnectAttempts, err = meter.Int64Counter("bridge.reconnect.attempts",
		metric.WithDescription("Reconnection attempts made by either reconnect loop"),
	)
	if err != nil {
		return nil, err
	}

	m.ReconnectSuccesses, err = meter.Int64Counter("bridge.reconnect.successes",
		metric.WithDescription("Reconnection attempts that resulted in a new transport coming up"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
