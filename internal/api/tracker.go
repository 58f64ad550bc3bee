package api

import (
	"sync"
	"time"

	"github.com/dgnsrekt/trafficlab/internal/orchestrator"
	"github.com/dgnsrekt/trafficlab/internal/types"
)

const (
	RunStateRunning   = "running"
	RunStateFinished  = "finished"
	RunStateCancelled = "cancelled"
)

// RunInfo is the status document served at /api/v1/run.
type RunInfo struct {
	RunID         string         `json:"run_id"`
	State         string         `json:"state"`
	Seed          uint64         `json:"seed"`
	Driver        string         `json:"driver"`
	Interface     string         `json:"interface"`
	Filter        string         `json:"filter"`
	OutDir        string         `json:"outdir"`
	Prefix        string         `json:"prefix"`
	Cycles        int            `json:"cycles"`
	ItemsPerCycle int            `json:"items_per_cycle"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at,omitempty"`
	CurrentCycle  int            `json:"current_cycle" doc:"Index of the cycle in progress, -1 when idle"`
	CurrentOutput string         `json:"current_output,omitempty"`
	CurrentItems  int            `json:"current_items"`
	CyclesDone    int            `json:"cycles_done"`
	Outcomes      map[string]int `json:"outcomes"`
	Packets       int64          `json:"packets"`
}

// Tracker keeps the live status of one run for the API. It is an orchestrator.Observer.
type Tracker struct {
	mu      sync.RWMutex
	info    RunInfo
	results []types.CycleResult
}

func NewTracker(info RunInfo) *Tracker {
	info.State = RunStateRunning
	info.CurrentCycle = -1
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	info.Outcomes = map[string]int{}
	return &Tracker{info: info}
}

func (t *Tracker) CycleStarted(ev orchestrator.CycleEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.CurrentCycle = ev.CycleIndex
	t.info.CurrentOutput = ev.OutputPath
	t.info.CurrentItems = 0
}

func (t *Tracker) ItemFinished(int, types.ItemRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.CurrentItems++
}

func (t *Tracker) CycleFinished(r types.CycleResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, r)
	t.info.CyclesDone++
	t.info.Outcomes[string(r.Outcome)]++
	t.info.Packets += r.PacketsCaptured
	t.info.CurrentCycle = -1
	t.info.CurrentOutput = ""
	t.info.CurrentItems = 0
}

// Finish records the terminal run state.
func (t *Tracker) Finish(state string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.State = state
	t.info.FinishedAt = time.Now().UTC()
}

// Info returns a copy of the current status.
func (t *Tracker) Info() RunInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info := t.info
	info.Outcomes = make(map[string]int, len(t.info.Outcomes))
	for k, v := range t.info.Outcomes {
		info.Outcomes[k] = v
	}
	return info
}

// Results returns the finished cycles in order.
func (t *Tracker) Results() []types.CycleResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.CycleResult, len(t.results))
	copy(out, t.results)
	return out
}

// Result looks up one finished cycle by its index.
func (t *Tracker) Result(index int) (types.CycleResult, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.results {
		if r.CycleIndex == index {
			return r, true
		}
	}
	return types.CycleResult{}, false
}

var _ orchestrator.Observer = (*Tracker)(nil)
