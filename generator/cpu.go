package generator

import (
	"errors"

	"github.com/shirou/gopsutil/v4/cpu"
)

// CPUSampler reports total CPU utilization in [0,1]. Injected so tests
// can drive the throttle without loading the host.
type CPUSampler interface {
	Sample() (float64, error)
}

// SystemSampler reads host CPU usage via gopsutil. The zero interval
// measures since the previous call, so sampling never blocks the
// generation loop.
type SystemSampler struct{}

func (SystemSampler) Sample() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, errors.New("no cpu sample available")
	}
	return percents[0] / 100, nil
}
