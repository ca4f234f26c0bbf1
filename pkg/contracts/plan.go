package contracts

import "time"

// QoSClass is a scheduling tier. Higher tiers always dispatch first unless
// a lower-tier plan is starving.
type QoSClass string

const (
	QoSPremium    QoSClass = "PREMIUM"
	QoSStandard   QoSClass = "STANDARD"
	QoSBestEffort QoSClass = "BEST_EFFORT"
)

// Rank orders QoS classes; larger is more important. Unknown classes rank -1.
func (q QoSClass) Rank() int {
	switch q {
	case QoSPremium:
		return 2
	case QoSStandard:
		return 1
	case QoSBestEffort:
		return 0
	}
	return -1
}

// ResourceBudget bounds what a plan may consume.
type ResourceBudget struct {
	MaxCores            int   `json:"max_cores" yaml:"max_cores" mapstructure:"max_cores" validate:"gte=0"`
	MaxMemoryBytes      int64 `json:"max_memory_bytes" yaml:"max_memory_bytes" mapstructure:"max_memory_bytes" validate:"gte=0"`
	MaxWallClockSeconds int64 `json:"max_wall_clock_seconds" yaml:"max_wall_clock_seconds" mapstructure:"max_wall_clock_seconds" validate:"gt=0"`
	AllowNetwork        bool  `json:"allow_network" yaml:"allow_network" mapstructure:"allow_network"`
	AllowStorage        bool  `json:"allow_storage" yaml:"allow_storage" mapstructure:"allow_storage"`
}

// WallClock returns MaxWallClockSeconds as a Duration.
func (b ResourceBudget) WallClock() time.Duration {
	return time.Duration(b.MaxWallClockSeconds) * time.Second
}

// Exceeds lists every dimension in which b asks for more than ceiling allows.
// An empty result means b fits.
func (b ResourceBudget) Exceeds(ceiling ResourceBudget) []string {
	var over []string
	if b.MaxCores > ceiling.MaxCores {
		over = append(over, "max_cores")
	}
	if b.MaxMemoryBytes > ceiling.MaxMemoryBytes {
		over = append(over, "max_memory_bytes")
	}
	if b.MaxWallClockSeconds > ceiling.MaxWallClockSeconds {
		over = append(over, "max_wall_clock_seconds")
	}
	if b.AllowNetwork && !ceiling.AllowNetwork {
		over = append(over, "allow_network")
	}
	if b.AllowStorage && !ceiling.AllowStorage {
		over = append(over, "allow_storage")
	}
	return over
}

// TestPlan is a request to execute a set of contracts.
type TestPlan struct {
	PlanID         string            `json:"plan_id" validate:"required"`
	Contracts      []string          `json:"contracts" validate:"required,min=1,dive,required"`
	Requester      string            `json:"requester" validate:"required"`
	Priority       int               `json:"priority"`
	QoS            QoSClass          `json:"qos" validate:"required,oneof=PREMIUM STANDARD BEST_EFFORT"`
	ResourceBudget ResourceBudget    `json:"resource_budget"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// PlanState is the lifecycle position of a submitted plan.
type PlanState string

const (
	PlanPending   PlanState = "PENDING"
	PlanScheduled PlanState = "SCHEDULED"
	PlanCompleted PlanState = "COMPLETED"
	PlanRejected  PlanState = "REJECTED"
	PlanWithdrawn PlanState = "WITHDRAWN"
	PlanTimedOut  PlanState = "TIMED_OUT"
)

// Terminal reports whether no further transition is possible from s.
func (s PlanState) Terminal() bool {
	switch s {
	case PlanCompleted, PlanRejected, PlanWithdrawn, PlanTimedOut:
		return true
	}
	return false
}
