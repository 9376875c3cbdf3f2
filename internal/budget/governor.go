// Package budget meters decision-backend usage for one job and halts work
// that exceeds configured cost ceilings.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/arena/internal/pricing"
)

// Status classifies a running total against a ceiling.
type Status string

const (
	StatusOK       Status = "OK"
	StatusWarning  Status = "WARNING"
	StatusExceeded Status = "EXCEEDED"
)

func statusRank(s Status) int {
	switch s {
	case StatusWarning:
		return 1
	case StatusExceeded:
		return 2
	default:
		return 0
	}
}

// Scope identifies which ceiling a status refers to.
type Scope string

const (
	ScopePower Scope = "power"
	ScopeJob   Scope = "job"
)

// DefaultWarnThreshold applies when the policy leaves WarnThreshold unset.
const DefaultWarnThreshold = 0.8

// Policy holds optional cost ceilings. A zero ceiling means unconstrained
// for that scope.
type Policy struct {
	MaxPowerCost  float64 `yaml:"max_power_cost,omitempty" json:"max_power_cost,omitempty"`
	MaxJobCost    float64 `yaml:"max_job_cost,omitempty" json:"max_job_cost,omitempty"`
	WarnThreshold float64 `yaml:"warn_threshold,omitempty" json:"warn_threshold,omitempty"`
}

func (p Policy) warnAt() float64 {
	if p.WarnThreshold > 0 && p.WarnThreshold < 1 {
		return p.WarnThreshold
	}
	return DefaultWarnThreshold
}

// UsageRecord is one metering event. Immutable once created.
type UsageRecord struct {
	Power        string    `json:"power"`
	Model        string    `json:"model"`
	Phase        string    `json:"phase"`
	Stage        string    `json:"stage"`
	Clock        string    `json:"clock"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	Timestamp    time.Time `json:"timestamp"`
}

// Decision is the result of a budget check.
type Decision struct {
	Allowed     bool   `json:"allowed"`
	PowerStatus Status `json:"power_status"`
	JobStatus   Status `json:"job_status"`
	Message     string `json:"message,omitempty"`
}

// Notice describes one status transition for a (scope, entity).
type Notice struct {
	Scope   Scope
	Entity  string
	Status  Status
	Cost    float64
	Ceiling float64
}

// StatusCallback receives budget status transitions.
type StatusCallback func(Notice)

// Governor prices and accumulates usage for a single job. Safe for
// concurrent use; a job is only ever driven by one worker at a time, but the
// governor does not rely on that.
type Governor struct {
	pricer *pricing.Pricer
	policy Policy

	mu           sync.Mutex
	records      []UsageRecord
	powerCost    map[string]float64
	powerCalls   map[string]int
	powerOrder   []string
	jobCost      float64
	lastReported map[string]Status
	callbacks    []StatusCallback
}

// NewGovernor creates a governor. A nil pricer uses the builtin default
// table.
func NewGovernor(pricer *pricing.Pricer, policy Policy) *Governor {
	if pricer == nil {
		pricer = pricing.NewPricer(nil)
	}
	return &Governor{
		pricer:       pricer,
		policy:       policy,
		powerCost:    make(map[string]float64),
		powerCalls:   make(map[string]int),
		lastReported: make(map[string]Status),
	}
}

// Price computes the cost of a metered call without recording it.
func (g *Governor) Price(modelID string, inputTokens, outputTokens int64) float64 {
	return g.pricer.Price(modelID, inputTokens, outputTokens)
}

// OnBudgetStatus registers a callback fired exactly once per upward
// transition into WARNING or EXCEEDED for a given (scope, entity). Sustained
// levels do not re-notify.
func (g *Governor) OnBudgetStatus(cb StatusCallback) {
	if cb == nil {
		return
	}
	g.mu.Lock()
	g.callbacks = append(g.callbacks, cb)
	g.mu.Unlock()
}

// Record meters one decision call. Metering is never skipped, even when a
// ceiling is already exceeded; governance decisions come from CheckBudget.
func (g *Governor) Record(power, modelID, phase, stage, clock string, inputTokens, outputTokens int64) UsageRecord {
	cost := g.pricer.Price(modelID, inputTokens, outputTokens)
	rec := UsageRecord{
		Power:        power,
		Model:        modelID,
		Phase:        phase,
		Stage:        stage,
		Clock:        clock,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
		Timestamp:    time.Now(),
	}

	g.mu.Lock()
	g.records = append(g.records, rec)
	if _, ok := g.powerCost[power]; !ok {
		g.powerOrder = append(g.powerOrder, power)
	}
	g.powerCost[power] += cost
	g.powerCalls[power]++
	g.jobCost += cost

	notices := g.evaluateLocked(power)
	callbacks := append([]StatusCallback(nil), g.callbacks...)
	g.mu.Unlock()

	// Callbacks run outside the lock; they may call back into the governor.
	for _, n := range notices {
		for _, cb := range callbacks {
			cb(n)
		}
	}
	return rec
}

// CheckBudget classifies the running totals for a power and for the whole
// job. Allowed is false when either scope is exceeded.
func (g *Governor) CheckBudget(power string) Decision {
	g.mu.Lock()
	powerStatus := classify(g.powerCost[power], g.policy.MaxPowerCost, g.policy.warnAt())
	jobStatus := classify(g.jobCost, g.policy.MaxJobCost, g.policy.warnAt())
	powerCost := g.powerCost[power]
	jobCost := g.jobCost
	g.mu.Unlock()

	d := Decision{
		Allowed:     powerStatus != StatusExceeded && jobStatus != StatusExceeded,
		PowerStatus: powerStatus,
		JobStatus:   jobStatus,
	}
	switch {
	case powerStatus == StatusExceeded:
		d.Message = fmt.Sprintf("power %s cost %.6f exceeds ceiling %.6f", power, powerCost, g.policy.MaxPowerCost)
	case jobStatus == StatusExceeded:
		d.Message = fmt.Sprintf("job cost %.6f exceeds ceiling %.6f", jobCost, g.policy.MaxJobCost)
	}
	return d
}

// TotalCost returns the job-wide running total.
func (g *Governor) TotalCost() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.jobCost
}

// Records returns a copy of all usage records in append order.
func (g *Governor) Records() []UsageRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]UsageRecord(nil), g.records...)
}

// evaluateLocked computes status transitions after an accumulation. Caller
// holds g.mu.
func (g *Governor) evaluateLocked(power string) []Notice {
	var notices []Notice

	check := func(scope Scope, entity string, total, ceiling float64) {
		status := classify(total, ceiling, g.policy.warnAt())
		key := string(scope) + "/" + entity
		prev := g.lastReported[key]
		if statusRank(status) > statusRank(prev) {
			g.lastReported[key] = status
			if status != StatusOK {
				notices = append(notices, Notice{
					Scope:   scope,
					Entity:  entity,
					Status:  status,
					Cost:    total,
					Ceiling: ceiling,
				})
			}
		}
	}

	check(ScopePower, power, g.powerCost[power], g.policy.MaxPowerCost)
	check(ScopeJob, "", g.jobCost, g.policy.MaxJobCost)
	return notices
}

// classify maps a running total onto OK/WARNING/EXCEEDED for one ceiling.
// An absent ceiling is unconstrained.
func classify(total, ceiling, warnAt float64) Status {
	if ceiling <= 0 {
		return StatusOK
	}
	switch {
	case total >= ceiling:
		return StatusExceeded
	case total >= ceiling*warnAt:
		return StatusWarning
	default:
		return StatusOK
	}
}
