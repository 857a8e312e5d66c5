package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"darms/internal/model"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat  string           `json:"log_format" yaml:"log_format" validate:"omitempty,oneof=json text"`
	Seed       uint64           `json:"seed" yaml:"seed"`
	Instance   InstanceConfig   `json:"instance" yaml:"instance"`
	Scenario   ScenarioConfig   `json:"scenario" yaml:"scenario"`
	Robustness RobustnessConfig `json:"robustness" yaml:"robustness"`
	Solve      SolveConfig      `json:"solve" yaml:"solve"`
	Fines      FinesConfig      `json:"fines" yaml:"fines"`
	Trials     TrialsConfig     `json:"trials" yaml:"trials"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Publish    PublishConfig    `json:"publish" yaml:"publish"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Output     OutputConfig     `json:"output" yaml:"output"`
}

// InstanceConfig describes the airport instance. Clock values are HH:MM.
type InstanceConfig struct {
	ShiftStart    string           `json:"shift_start" yaml:"shift_start" validate:"required"`
	ShiftDuration int              `json:"shift_duration" yaml:"shift_duration" validate:"gt=0"`
	Granularity   int              `json:"granularity" yaml:"granularity" validate:"gt=0"`
	Categories    []CategoryConfig `json:"categories" yaml:"categories" validate:"required,min=1,dive"`
	Methods       []string         `json:"methods" yaml:"methods" validate:"required,min=1,dive,required"`
	Flights       []FlightConfig   `json:"flights" yaml:"flights" validate:"required,min=1,dive"`
	Resources     []ResourceConfig `json:"resources" yaml:"resources" validate:"required,min=1,dive"`
	Operations    [][]string       `json:"operations" yaml:"operations" validate:"required,min=1,dive,min=1"`
}

type CategoryConfig struct {
	Name  string  `json:"name" yaml:"name" validate:"required"`
	Prior float64 `json:"prior" yaml:"prior" validate:"gte=0,lte=1"`
}

type FlightConfig struct {
	Name       string         `json:"name" yaml:"name" validate:"required"`
	Type       string         `json:"type" yaml:"type" validate:"oneof=DOMESTIC INTERNATIONAL"`
	Departure  string         `json:"departure" yaml:"departure" validate:"required"`
	Payoffs    model.Payoffs  `json:"payoffs" yaml:"payoffs"`
	Passengers map[string]int `json:"passengers" yaml:"passengers" validate:"required"`
}

// ResourceConfig effectiveness is keyed by category name, then method name.
type ResourceConfig struct {
	Name          string                        `json:"name" yaml:"name" validate:"required"`
	Capacity      int                           `json:"capacity" yaml:"capacity" validate:"gt=0"`
	Quantity      int                           `json:"quantity" yaml:"quantity" validate:"gt=0"`
	Effectiveness map[string]map[string]float64 `json:"effectiveness" yaml:"effectiveness" validate:"required"`
}

type ArrivalConfig struct {
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"stddev" yaml:"stddev" validate:"gt=0"`
}

// ScenarioConfig training of 0 means the sample size is estimated.
type ScenarioConfig struct {
	Training      int           `json:"training" yaml:"training" validate:"gte=0"`
	Validation    int           `json:"validation" yaml:"validation" validate:"gte=0"`
	Uncertainty   int           `json:"uncertainty" yaml:"uncertainty" validate:"gte=0"`
	Domestic      ArrivalConfig `json:"domestic" yaml:"domestic"`
	International ArrivalConfig `json:"international" yaml:"international"`
}

type RobustnessConfig struct {
	Epsilon    float64 `json:"epsilon" yaml:"epsilon" validate:"gt=0,lt=1"`
	Beta       float64 `json:"beta" yaml:"beta" validate:"gt=0,lt=1"`
	MaxSamples int     `json:"max_samples" yaml:"max_samples" validate:"gte=0"`
}

type SolveConfig struct {
	Mode                string  `json:"mode" yaml:"mode" validate:"oneof=joint decomposed"`
	Rule                string  `json:"rule" yaml:"rule" validate:"oneof=constant linear"`
	Overflow            bool    `json:"overflow" yaml:"overflow"`
	ZeroSum             bool    `json:"zero_sum" yaml:"zero_sum"`
	Solver              string  `json:"solver" yaml:"solver" validate:"omitempty,oneof=dual simplex"`
	Tolerance           float64 `json:"tolerance" yaml:"tolerance" validate:"gte=0"`
	ValidationTolerance float64 `json:"validation_tolerance" yaml:"validation_tolerance" validate:"gte=0"`
	ViolationLogLimit   int     `json:"violation_log_limit" yaml:"violation_log_limit" validate:"gte=0"`
}

type FinesConfig struct {
	Distribution string             `json:"distribution" yaml:"distribution" validate:"omitempty,oneof=random uniform targeted"`
	Min          float64            `json:"min" yaml:"min" validate:"gte=0"`
	Max          float64            `json:"max" yaml:"max" validate:"gtefield=Min"`
	Trial        int                `json:"trial" yaml:"trial" validate:"gte=0"`
	Trials       int                `json:"trials" yaml:"trials" validate:"gte=0"`
	Target       string             `json:"target" yaml:"target"`
	Other        float64            `json:"other" yaml:"other"`
	Overrides    map[string]float64 `json:"overrides" yaml:"overrides"`
}

type TrialsConfig struct {
	Runs int `json:"runs" yaml:"runs" validate:"gte=0"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type PublishConfig struct {
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type MetricsConfig struct {
	StoreLimit int    `json:"store_limit" yaml:"store_limit"`
	Textfile   string `json:"textfile" yaml:"textfile"`
}

type OutputConfig struct {
	Report string `json:"report" yaml:"report"`
	LP     string `json:"lp" yaml:"lp"`
}

func DefaultConfig() *Config {
	payoffs := model.Payoffs{DefenderCovered: 5, DefenderUncovered: -10, AttackerCovered: -5, AttackerUncovered: 10}
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Seed:      1,
		Instance: InstanceConfig{
			ShiftStart:    "08:00",
			ShiftDuration: 120,
			Granularity:   60,
			Categories: []CategoryConfig{
				{Name: "low", Prior: 0.7},
				{Name: "high", Prior: 0.3},
			},
			Methods: []string{"bomb", "gun"},
			Flights: []FlightConfig{
				{Name: "UA100", Type: "DOMESTIC", Departure: "10:30", Payoffs: payoffs, Passengers: map[string]int{"low": 80, "high": 20}},
				{Name: "LH400", Type: "INTERNATIONAL", Departure: "11:00", Payoffs: payoffs, Passengers: map[string]int{"low": 60, "high": 40}},
			},
			Resources: []ResourceConfig{
				{Name: "xray", Capacity: 100, Quantity: 3, Effectiveness: map[string]map[string]float64{
					"low":  {"bomb": 0.6, "gun": 0.8},
					"high": {"bomb": 0.6, "gun": 0.8},
				}},
				{Name: "patdown", Capacity: 40, Quantity: 1, Effectiveness: map[string]map[string]float64{
					"low":  {"bomb": 0.5, "gun": 0.7},
					"high": {"bomb": 0.5, "gun": 0.7},
				}},
			},
			Operations: [][]string{{"xray"}, {"xray", "patdown"}},
		},
		Scenario: ScenarioConfig{
			Validation:    1000,
			Uncertainty:   10,
			Domestic:      ArrivalConfig{Mean: -190, StdDev: 50},
			International: ArrivalConfig{Mean: -190, StdDev: 50},
		},
		Robustness: RobustnessConfig{Epsilon: 0.1, Beta: 0.01, MaxSamples: 1_000_000},
		Solve: SolveConfig{
			Mode:                "joint",
			Rule:                "linear",
			ZeroSum:             true,
			Solver:              "dual",
			Tolerance:           1e-9,
			ValidationTolerance: 1e-6,
			ViolationLogLimit:   100,
		},
		Fines:   FinesConfig{Distribution: "random", Min: 0, Max: 1},
		Trials:  TrialsConfig{Runs: 10},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:darms.db?_pragma=busy_timeout(5000)"},
		Metrics: MetricsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	// A file that names an instance replaces the sample one wholesale.
	cfg.Instance = InstanceConfig{}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if len(cfg.Instance.Flights) == 0 {
		cfg.Instance = DefaultConfig().Instance
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.Solve.Mode == "" {
		cfg.Solve.Mode = "joint"
	}
	if cfg.Solve.Rule == "" {
		cfg.Solve.Rule = "linear"
	}
	if cfg.Solve.Solver == "" {
		cfg.Solve.Solver = "dual"
	}
	if cfg.Solve.Tolerance <= 0 {
		cfg.Solve.Tolerance = 1e-9
	}
	if cfg.Solve.ValidationTolerance <= 0 {
		cfg.Solve.ValidationTolerance = 1e-6
	}
	if cfg.Solve.ViolationLogLimit <= 0 {
		cfg.Solve.ViolationLogLimit = 100
	}
	if cfg.Scenario.Domestic.StdDev == 0 {
		cfg.Scenario.Domestic = ArrivalConfig{Mean: -190, StdDev: 50}
	}
	if cfg.Scenario.International.StdDev == 0 {
		cfg.Scenario.International = ArrivalConfig{Mean: -190, StdDev: 50}
	}
	if cfg.Robustness.MaxSamples <= 0 {
		cfg.Robustness.MaxSamples = 1_000_000
	}
	if cfg.Fines.Distribution == "" {
		cfg.Fines.Distribution = "random"
	}
	if cfg.Trials.Runs <= 0 {
		cfg.Trials.Runs = 10
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 1000
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
}

var validate = validator.New()

func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	in := cfg.Instance
	if in.ShiftDuration%in.Granularity != 0 {
		return fmt.Errorf("instance.shift_duration %d must be divisible by instance.granularity %d", in.ShiftDuration, in.Granularity)
	}
	if _, err := ParseClock(in.ShiftStart); err != nil {
		return fmt.Errorf("instance.shift_start: %w", err)
	}
	for _, f := range in.Flights {
		if _, err := ParseClock(f.Departure); err != nil {
			return fmt.Errorf("instance.flights[%s].departure: %w", f.Name, err)
		}
	}
	u := float64(cfg.Scenario.Uncertainty)
	if u >= cfg.Scenario.Domestic.StdDev || u >= cfg.Scenario.International.StdDev {
		return errors.New("scenario.uncertainty must be smaller than every arrival stddev")
	}
	if cfg.Solve.ZeroSum {
		for _, f := range in.Flights {
			if !f.Payoffs.ZeroSum() {
				return fmt.Errorf("flight %s payoffs are not zero-sum while solve.zero_sum is true", f.Name)
			}
		}
	}
	if cfg.Fines.Distribution == "targeted" && cfg.Fines.Target == "" {
		return errors.New("fines.target required when fines.distribution is targeted")
	}
	if cfg.Storage.Enabled && cfg.Storage.Driver == "" {
		return errors.New("storage.driver required when storage.enabled is true")
	}
	if cfg.Publish.Kafka.Enabled {
		if len(cfg.Publish.Kafka.Brokers) == 0 || cfg.Publish.Kafka.Topic == "" {
			return errors.New("publish.kafka requires brokers, topic")
		}
	}
	return nil
}

// ParseClock converts HH:MM into minutes after midnight.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("clock %q is not HH:MM", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return h*60 + m, nil
}

// Problem builds the validated model instance. Names are resolved to the
// ids the builder issues.
func (c *Config) Problem() (*model.Problem, error) {
	in := c.Instance
	b := model.NewBuilder()
	categories := make(map[string]int, len(in.Categories))
	for _, cat := range in.Categories {
		categories[cat.Name] = b.Category(cat.Name, cat.Prior)
	}
	methods := make(map[string]int, len(in.Methods))
	for _, m := range in.Methods {
		methods[m] = b.Method(m)
	}
	for _, f := range in.Flights {
		dep, err := ParseClock(f.Departure)
		if err != nil {
			return nil, err
		}
		passengers := make(map[int]int, len(f.Passengers))
		for name, n := range f.Passengers {
			id, ok := categories[name]
			if !ok {
				return nil, fmt.Errorf("%w: flight %s references unknown category %q", model.ErrInvalidInstance, f.Name, name)
			}
			passengers[id] = n
		}
		b.Flight(f.Name, model.FlightType(f.Type), dep, f.Payoffs, passengers)
	}
	resources := make(map[string]int, len(in.Resources))
	for _, r := range in.Resources {
		eff := make(map[model.EffectivenessKey]float64)
		for catName, byMethod := range r.Effectiveness {
			ci, ok := categories[catName]
			if !ok {
				return nil, fmt.Errorf("%w: resource %s references unknown category %q", model.ErrInvalidInstance, r.Name, catName)
			}
			for methodName, v := range byMethod {
				mi, ok := methods[methodName]
				if !ok {
					return nil, fmt.Errorf("%w: resource %s references unknown method %q", model.ErrInvalidInstance, r.Name, methodName)
				}
				eff[model.EffectivenessKey{Category: ci, Method: mi}] = v
			}
		}
		resources[r.Name] = b.Resource(r.Name, r.Capacity, r.Quantity, eff)
	}
	for _, op := range in.Operations {
		ids := make([]int, 0, len(op))
		for _, name := range op {
			id, ok := resources[name]
			if !ok {
				return nil, fmt.Errorf("%w: operation references unknown resource %q", model.ErrInvalidInstance, name)
			}
			ids = append(ids, id)
		}
		b.Operation(ids...)
	}
	start, err := ParseClock(in.ShiftStart)
	if err != nil {
		return nil, err
	}
	b.Shift(start, in.ShiftDuration, in.Granularity)
	return b.Build()
}
