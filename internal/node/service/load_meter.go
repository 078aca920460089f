package service

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

// ewmaTickInterval is the tick rate the EWMA decay constants assume.
const ewmaTickInterval = 5 * time.Second

// loadMeter tracks a one-minute moving rate of foreground operations per
// partition. The anti-entropy scheduler skips busy partitions.
type loadMeter struct {
	core   *NodeServiceImpl
	meters *xsync.MapOf[int, gometrics.EWMA]
}

func newLoadMeter(core *NodeServiceImpl) *loadMeter {
	return &loadMeter{
		core:   core,
		meters: xsync.NewMapOf[int, gometrics.EWMA](),
	}
}

func (m *loadMeter) mark(partition int) {
	meter, _ := m.meters.LoadOrCompute(partition, gometrics.NewEWMA1)
	meter.Update(1)
}

func (m *loadMeter) markToken(token uint64) {
	m.mark(m.core.layout.Partition(token))
}

// rate returns operations per second for a partition.
func (m *loadMeter) rate(partition int) float64 {
	meter, ok := m.meters.Load(partition)
	if !ok {
		return 0
	}
	return meter.Rate()
}

func (m *loadMeter) tick() {
	m.meters.Range(func(_ int, meter gometrics.EWMA) bool {
		meter.Tick()
		return true
	})
}

func (m *loadMeter) run(ctx context.Context) {
	ticker := time.NewTicker(ewmaTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}
