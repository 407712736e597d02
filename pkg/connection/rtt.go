package connection

import (
	"time"

	"github.com/ryandielhenn/zephyrnet/internal/telemetry"
	"github.com/ryandielhenn/zephyrnet/pkg/config"
)

// RTT is an exponential moving average of round trip samples, in
// milliseconds, clamped to the configured ceiling.
type RTT struct {
	smoothing float32
	ceiling   float32
	value     float32
	seeded    bool
}

func NewRTT(cfg config.Config) *RTT {
	return &RTT{smoothing: cfg.RTTSmoothingFactor, ceiling: float32(cfg.RTTMaxValue)}
}

func (r *RTT) Observe(sample time.Duration) {
	ms := min(max(float32(sample.Seconds()*1000), 0), r.ceiling)
	if !r.seeded {
		r.value = ms
		r.seeded = true
	} else {
		r.value += (ms - r.value) * r.smoothing
	}
	telemetry.RTT.Observe(float64(r.value) / 1000)
}

// Value is the current estimate; zero until the first sample.
func (r *RTT) Value() time.Duration {
	return time.Duration(float64(r.value) * float64(time.Millisecond))
}

func (r *RTT) Millis() float32 { return r.value }
