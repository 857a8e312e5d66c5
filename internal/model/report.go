package model

import "time"

type AttackChoice struct {
	Window      int    `json:"window"`
	WindowStart int    `json:"window_start"`
	Flight      string `json:"flight"`
	Method      string `json:"method"`
}

type CategoryResult struct {
	Category        string       `json:"category"`
	Prior           float64      `json:"prior"`
	DefenderValue   float64      `json:"defender_value"`
	AdversaryPayoff float64      `json:"adversary_payoff"`
	BestResponse    AttackChoice `json:"best_response"`
	ViolationRate   float64      `json:"violation_rate"`
}

type CoefficientKind string

const (
	CoefficientIntercept CoefficientKind = "intercept"
	CoefficientSlope     CoefficientKind = "slope"
	CoefficientOverflow  CoefficientKind = "overflow"
)

type Coefficient struct {
	Kind      CoefficientKind `json:"kind"`
	Window    int             `json:"window"`
	Prior     int             `json:"prior,omitempty"`
	Flight    string          `json:"flight,omitempty"`
	Category  string          `json:"category,omitempty"`
	Operation string          `json:"operation,omitempty"`
	Resource  string          `json:"resource,omitempty"`
	Value     float64         `json:"value"`
}

type ViolationCounts struct {
	Value      int `json:"value"`
	Bounding   int `json:"bounding"`
	Throughput int `json:"throughput"`
}

type Report struct {
	RunID                string           `json:"run_id"`
	CreatedAt            time.Time        `json:"created_at"`
	Mode                 string           `json:"mode"`
	Rule                 string           `json:"rule"`
	Overflow             bool             `json:"overflow"`
	ZeroSum              bool             `json:"zero_sum"`
	Seed                 uint64           `json:"seed"`
	Epsilon              float64          `json:"epsilon"`
	Beta                 float64          `json:"beta"`
	Dimension            int              `json:"dimension"`
	TrainingSamples      int              `json:"training_samples"`
	ValidationSamples    int              `json:"validation_samples"`
	Variables            int              `json:"variables"`
	Constraints          int              `json:"constraints"`
	Objective            float64          `json:"objective"`
	TotalDefenderUtility float64          `json:"total_defender_utility"`
	ViolationRate        float64          `json:"violation_rate"`
	Violations           ViolationCounts  `json:"violations"`
	SolveSeconds         float64          `json:"solve_seconds"`
	Note                 string           `json:"note,omitempty"`
	Categories           []CategoryResult `json:"categories"`
	Coefficients         []Coefficient    `json:"coefficients"`
}

type RunMetrics struct {
	RunID         string    `json:"run_id"`
	Mode          string    `json:"mode"`
	Status        string    `json:"status"`
	Variables     int       `json:"variables"`
	Constraints   int       `json:"constraints"`
	ViolationRate float64   `json:"violation_rate"`
	SolveSeconds  float64   `json:"solve_seconds"`
	UpdatedAt     time.Time `json:"updated_at"`
}
