// Package metrics defines the instrument types shared by core packages.
// Backends such as Prometheus live under adapters/ so that the core never
// imports a metrics library directly.
package metrics

// Timer measures one operation. Create it when the operation starts and call
// ObserveDuration when it ends:
//
//	defer m.AppendDuration().ObserveDuration()
type Timer interface {
	ObserveDuration()
}

// Counter only goes up.
type Counter interface {
	Inc()
	Add(delta float64)
}

// Gauge can go up and down, e.g. the number of appends waiting for a stream.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
}
