package metrics

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/castbench/castbench/pkg/model"
)

// CPUSampler reads process-level CPU utilization for the presenter's
// browser process.
type CPUSampler struct {
	proc *process.Process
}

// NewCPUSampler binds a sampler to the given process id.
func NewCPUSampler(pid int) (*CPUSampler, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	// Prime the internal CPU times snapshot so the first real sample
	// measures utilization since now rather than since process start.
	proc.Percent(0)
	return &CPUSampler{proc: proc}, nil
}

// Sample reads the current CPU utilization percentage. A read failure
// (process exited, /proc unavailable) contributes no sample and is not an
// error: the instrument degrades, the test continues.
func (s *CPUSampler) Sample(ctx context.Context) *model.CPUSample {
	if s == nil || s.proc == nil {
		return nil
	}
	percent, err := s.proc.PercentWithContext(ctx, 0)
	if err != nil {
		log.Debug("cpu sample failed", "pid", s.proc.Pid, "error", err)
		return nil
	}
	return &model.CPUSample{
		Timestamp: time.Now().UnixMilli(),
		Percent:   percent,
	}
}
