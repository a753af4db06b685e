package notifier

import "time"

// PlannerConfig holds the retry schedule for failed sends. Notification
// delivery is best-effort: a failed send only moves the row further out,
// it never touches the transaction that produced it.
type PlannerConfig struct {
	Backoff1 time.Duration // default: 30 seconds
	Backoff2 time.Duration // default: 2 minutes
	Backoff3 time.Duration // default: 10 minutes
	Backoff4 time.Duration // default: 1 hour
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Backoff1: 30 * time.Second,
		Backoff2: 2 * time.Minute,
		Backoff3: 10 * time.Minute,
		Backoff4: 1 * time.Hour,
	}
}

type Planner struct {
	cfg PlannerConfig
}

func NewPlanner(cfg PlannerConfig) *Planner {
	def := DefaultPlannerConfig()
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	return &Planner{cfg: cfg}
}

func (p *Planner) BackoffDelay(nextFailCount int32) time.Duration {
	switch {
	case nextFailCount <= 1:
		return p.cfg.Backoff1
	case nextFailCount == 2:
		return p.cfg.Backoff2
	case nextFailCount == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
