package metrics

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

type nopCounter struct{}

func (nopCounter) Inc()        {}
func (nopCounter) Add(float64) {}

type nopGauge struct{}

func (nopGauge) Set(float64) {}
func (nopGauge) Inc()        {}
func (nopGauge) Dec()        {}

// NopTimer returns a Timer that records nothing.
func NopTimer() Timer { return nopTimer{} }

// NopCounter returns a Counter that records nothing.
func NopCounter() Counter { return nopCounter{} }

// NopGauge returns a Gauge that records nothing.
func NopGauge() Gauge { return nopGauge{} }
