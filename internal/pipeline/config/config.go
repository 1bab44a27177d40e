package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

// Config is the single versioned threshold table handed to every stage.
type Config struct {
	Version      string                      `yaml:"version"`
	Pipeline     string                      `yaml:"pipeline"`
	AdvanceHours int                         `yaml:"advance_hours"`
	Workers      int                         `yaml:"workers"`
	Validation   ValidationConfig            `yaml:"validation"`
	Monitor      MonitorConfig               `yaml:"monitor"`
	Forecast     ForecastConfig              `yaml:"forecast"`
	Optimizer    OptimizerConfig             `yaml:"optimizer"`
	Decision     DecisionConfig              `yaml:"decision"`
	Weekly       WeeklyConfig                `yaml:"weekly"`
	Tariff       TariffConfig                `yaml:"tariff"`
	Policies     map[string]Policy           `yaml:"policies"`
	Buildings    map[string]BuildingOverride `yaml:"buildings"`
	Schedule     ScheduleConfig              `yaml:"schedule"`
	WebhookURL   string                      `yaml:"webhook_url"`
}

// ValidationConfig holds physical and comfort bounds for raw readings.
type ValidationConfig struct {
	EnergyMinKWh     float64   `yaml:"energy_min_kwh"`
	EnergyCeilingKWh float64   `yaml:"energy_ceiling_kwh"`
	HumidityMin      float64   `yaml:"humidity_min"`
	HumidityMax      float64   `yaml:"humidity_max"`
	TempFaultMin     float64   `yaml:"temp_fault_min"`
	TempFaultMax     float64   `yaml:"temp_fault_max"`
	ComfortMin       float64   `yaml:"comfort_min"`
	ComfortMax       float64   `yaml:"comfort_max"`
	OccupancyValues  []float64 `yaml:"occupancy_values"`
}

// MonitorConfig holds detector thresholds and severity tiers.
type MonitorConfig struct {
	WindowHours      int              `yaml:"window_hours"`
	MinSamplesForStd int              `yaml:"min_samples_for_std"`
	Spike            SpikeConfig      `yaml:"spike"`
	Unoccupied       UnoccupiedConfig `yaml:"unoccupied"`
	CostNow          CostNowConfig    `yaml:"cost_now"`
	Drift            DriftConfig      `yaml:"drift"`
	Waste            WasteConfig      `yaml:"waste"`
	Budget           BudgetConfig     `yaml:"budget"`
}

// SpikeTier fires when latest > mean + K*std, or latest > MeanMultiplier*mean
// when the baseline is too short for a deviation.
type SpikeTier struct {
	Severity       pipeline.Severity `yaml:"severity"`
	K              float64           `yaml:"k"`
	MeanMultiplier float64           `yaml:"mean_multiplier"`
}

// SpikeConfig lists spike tiers, highest severity first.
type SpikeConfig struct {
	Tiers []SpikeTier `yaml:"tiers"`
}

// UnoccupiedConfig bounds consumption while a unit is empty.
type UnoccupiedConfig struct {
	FloorKWh       float64 `yaml:"floor_kwh"`
	MeanMultiplier float64 `yaml:"mean_multiplier"`
	NoHistoryKWh   float64 `yaml:"no_history_kwh"`
}

// CostNowConfig bounds consumption during the expensive tariff.
type CostNowConfig struct {
	FloorKWh       float64 `yaml:"floor_kwh"`
	MeanMultiplier float64 `yaml:"mean_multiplier"`
}

// MarginTier maps a relative margin to a severity.
type MarginTier struct {
	Margin   float64           `yaml:"margin"`
	Severity pipeline.Severity `yaml:"severity"`
}

// DriftConfig compares the recent block of samples against older ones.
type DriftConfig struct {
	LookbackHours   int          `yaml:"lookback_hours"`
	RecentSamples   int          `yaml:"recent_samples"`
	MinOlderSamples int          `yaml:"min_older_samples"`
	Tiers           []MarginTier `yaml:"tiers"`
}

// WasteConfig sets how many aligned samples make a rising run.
type WasteConfig struct {
	Samples int `yaml:"samples"`
}

// BudgetConfig compares a trailing daily sum against a per-unit budget.
type BudgetConfig struct {
	Samples  int          `yaml:"samples"`
	DailyKWh float64      `yaml:"daily_kwh"`
	Tiers    []MarginTier `yaml:"tiers"`
}

// ForecastConfig holds feature and artifact settings.
type ForecastConfig struct {
	Lookback               int     `yaml:"lookback"`
	OccupancyWindowHours   int     `yaml:"occupancy_window_hours"`
	DefaultIntervalMinutes int     `yaml:"default_interval_minutes"`
	DefaultAreaM2          float64 `yaml:"default_area_m2"`
	ModelTask              string  `yaml:"model_task"`
	FeatureVersion         string  `yaml:"feature_version"`
}

// PriorityRule assigns a priority to clusters whose name contains Match.
type PriorityRule struct {
	Match    string  `yaml:"match"`
	Priority float64 `yaml:"priority"`
}

// OptimizerConfig holds plan heuristics.
type OptimizerConfig struct {
	OccupancyEmpty          float64        `yaml:"occupancy_empty"`
	TempComfort             float64        `yaml:"temp_comfort"`
	TempSetback             float64        `yaml:"temp_setback"`
	TempReduce              float64        `yaml:"temp_reduce"`
	ConsumptionThresholdKWh float64        `yaml:"consumption_threshold_kwh"`
	MinPriority             float64        `yaml:"min_priority"`
	DefaultPriority         float64        `yaml:"default_priority"`
	Priorities              []PriorityRule `yaml:"priorities"`
	SavingsSetback          float64        `yaml:"savings_setback"`
	SavingsReduce           float64        `yaml:"savings_reduce"`
	RiskAggressive          float64        `yaml:"risk_aggressive"`
	RiskMaintain            float64        `yaml:"risk_maintain"`
}

// PenaltyConfig lowers confidence for aggressive plans.
type PenaltyConfig struct {
	LowConsumptionKWh     float64 `yaml:"low_consumption_kwh"`
	LowConsumptionPenalty float64 `yaml:"low_consumption_penalty"`
	LowSavings            float64 `yaml:"low_savings"`
	LowSavingsPenalty     float64 `yaml:"low_savings_penalty"`
	HighOccupancy         float64 `yaml:"high_occupancy"`
	HighOccupancyPenalty  float64 `yaml:"high_occupancy_penalty"`
}

// SpikeGuardConfig is the emergency response to a spike.
type SpikeGuardConfig struct {
	TargetTemp float64 `yaml:"target_temp"`
	Confidence float64 `yaml:"confidence"`
}

// StepGuardConfig lowers the target by Step while it stays above the comfort
// minimum plus Margin.
type StepGuardConfig struct {
	Margin float64 `yaml:"margin"`
	Step   float64 `yaml:"step"`
}

// BudgetGuardConfig controls the daily budget response.
type BudgetGuardConfig struct {
	ForceReduction bool    `yaml:"force_reduction"`
	OverageKWh     float64 `yaml:"overage_kwh"`
	Step           float64 `yaml:"step"`
}

// DecisionConfig holds gate and guard thresholds.
type DecisionConfig struct {
	ApproveThreshold         float64           `yaml:"approve_threshold"`
	DegradedApproveThreshold float64           `yaml:"degraded_approve_threshold"`
	OccupancyPresent         float64           `yaml:"occupancy_present"`
	ComfortMinTemp           float64           `yaml:"comfort_min_temp"`
	PresenceFloorTemp        float64           `yaml:"presence_floor_temp"`
	MinCoverage              float64           `yaml:"min_coverage"`
	MinConfidence            float64           `yaml:"min_confidence"`
	BlockRatio               float64           `yaml:"block_ratio"`
	Penalties                PenaltyConfig     `yaml:"penalties"`
	Spike                    SpikeGuardConfig  `yaml:"spike"`
	Sustained                StepGuardConfig   `yaml:"sustained"`
	Waste                    StepGuardConfig   `yaml:"waste"`
	Budget                   BudgetGuardConfig `yaml:"budget"`
}

// WeeklyConfig holds weekly report thresholds.
type WeeklyConfig struct {
	Days             int     `yaml:"days"`
	VariabilityRatio float64 `yaml:"variability_ratio"`
	BudgetKWh        float64 `yaml:"budget_kwh"`
	MinTrendDays     int     `yaml:"min_trend_days"`
	MinRisingDays    int     `yaml:"min_rising_days"`
}

// TariffConfig is the fallback tariff when a building has none stored.
type TariffConfig struct {
	LowStart        string  `yaml:"low_start"`
	LowEnd          string  `yaml:"low_end"`
	LowPrice        float64 `yaml:"low_price"`
	HighPrice       float64 `yaml:"high_price"`
	SundayAllDayLow bool    `yaml:"sunday_all_day_low"`
	Currency        string  `yaml:"currency"`
}

// Policy weights the optimizer's savings estimate.
type Policy struct {
	CostWeight    float64 `yaml:"cost_weight"`
	ComfortWeight float64 `yaml:"comfort_weight"`
	RiskWeight    float64 `yaml:"risk_weight"`
}

// BuildingOverride replaces defaults for one building. Zero values keep the default.
type BuildingOverride struct {
	Policy          string  `yaml:"policy"`
	DailyBudgetKWh  float64 `yaml:"daily_budget_kwh"`
	WeeklyBudgetKWh float64 `yaml:"weekly_budget_kwh"`
	ForceBudget     *bool   `yaml:"force_budget_reduction"`
}

// BuildingSettings are the effective per-building values.
type BuildingSettings struct {
	PolicyName      string
	Policy          Policy
	DailyBudgetKWh  float64
	WeeklyBudgetKWh float64
	ForceBudget     bool
}

// ScheduleConfig defines the daily trigger.
type ScheduleConfig struct {
	DailyAt   string   `yaml:"daily_at"`
	Buildings []string `yaml:"buildings"`
}

const defaultPolicy = "default"

// Default returns the documented threshold table.
func Default() Config {
	return Config{
		Version:      "2024.1",
		Pipeline:     "advisory",
		AdvanceHours: 24,
		Workers:      4,
		Validation: ValidationConfig{
			EnergyMinKWh:     0,
			EnergyCeilingKWh: 50,
			HumidityMin:      0,
			HumidityMax:      100,
			TempFaultMin:     -10,
			TempFaultMax:     60,
			ComfortMin:       18,
			ComfortMax:       28,
			OccupancyValues:  []float64{0, 1},
		},
		Monitor: MonitorConfig{
			WindowHours:      24,
			MinSamplesForStd: 2,
			Spike: SpikeConfig{Tiers: []SpikeTier{
				{Severity: pipeline.SeverityCritical, K: 2.5, MeanMultiplier: 3.0},
				{Severity: pipeline.SeverityHigh, K: 1.8, MeanMultiplier: 2.0},
			}},
			Unoccupied: UnoccupiedConfig{FloorKWh: 0.35, MeanMultiplier: 2.0, NoHistoryKWh: 0.6},
			CostNow:    CostNowConfig{FloorKWh: 0.35, MeanMultiplier: 1.5},
			Drift: DriftConfig{
				LookbackHours:   48,
				RecentSamples:   48,
				MinOlderSamples: 1,
				Tiers: []MarginTier{
					{Margin: 0.5, Severity: pipeline.SeverityHigh},
					{Margin: 0.25, Severity: pipeline.SeverityMedium},
				},
			},
			Waste: WasteConfig{Samples: 4},
			Budget: BudgetConfig{
				Samples:  48,
				DailyKWh: 18,
				Tiers: []MarginTier{
					{Margin: 0.5, Severity: pipeline.SeverityHigh},
					{Margin: 0, Severity: pipeline.SeverityMedium},
				},
			},
		},
		Forecast: ForecastConfig{
			Lookback:               48,
			OccupancyWindowHours:   24,
			DefaultIntervalMinutes: 30,
			DefaultAreaM2:          50,
			ModelTask:              "energy_forecast",
			FeatureVersion:         "v1",
		},
		Optimizer: OptimizerConfig{
			OccupancyEmpty:          0.20,
			TempComfort:             21,
			TempSetback:             17,
			TempReduce:              19,
			ConsumptionThresholdKWh: 1.2,
			MinPriority:             0.1,
			DefaultPriority:         1.0,
			Priorities: []PriorityRule{
				{Match: "vacant", Priority: 1.5},
				{Match: "minimal", Priority: 1.5},
				{Match: "commercial", Priority: 1.2},
				{Match: "high", Priority: 1.1},
				{Match: "low", Priority: 0.9},
			},
			SavingsSetback: 0.20,
			SavingsReduce:  0.10,
			RiskAggressive: 0.25,
			RiskMaintain:   0.05,
		},
		Decision: DecisionConfig{
			ApproveThreshold:         0.60,
			DegradedApproveThreshold: 0.75,
			OccupancyPresent:         0.60,
			ComfortMinTemp:           19,
			PresenceFloorTemp:        20,
			MinCoverage:              0.80,
			MinConfidence:            0.50,
			BlockRatio:               0.40,
			Penalties: PenaltyConfig{
				LowConsumptionKWh:     0.5,
				LowConsumptionPenalty: 0.15,
				LowSavings:            0.02,
				LowSavingsPenalty:     0.10,
				HighOccupancy:         0.6,
				HighOccupancyPenalty:  0.10,
			},
			Spike:     SpikeGuardConfig{TargetTemp: 17, Confidence: 0.95},
			Sustained: StepGuardConfig{Margin: 1.0, Step: 1.0},
			Waste:     StepGuardConfig{Margin: 0, Step: 0.5},
			Budget:    BudgetGuardConfig{ForceReduction: false, OverageKWh: 5, Step: 1.5},
		},
		Weekly: WeeklyConfig{
			Days:             7,
			VariabilityRatio: 3,
			BudgetKWh:        120,
			MinTrendDays:     5,
			MinRisingDays:    4,
		},
		Tariff: TariffConfig{
			LowStart:        "22:00",
			LowEnd:          "06:00",
			LowPrice:        0.08,
			HighPrice:       0.18,
			SundayAllDayLow: true,
			Currency:        "BAM",
		},
		Policies: map[string]Policy{
			"default":      {CostWeight: 1.0, ComfortWeight: 0.8, RiskWeight: 0.4},
			"aggressive":   {CostWeight: 1.5, ComfortWeight: 0.5, RiskWeight: 0.2},
			"conservative": {CostWeight: 0.7, ComfortWeight: 1.2, RiskWeight: 0.8},
		},
		Schedule: ScheduleConfig{DailyAt: "02:00"},
	}
}

// LoadConfig overlays the YAML file at PIPELINE_CONFIG and env vars on Default.
func LoadConfig() (Config, error) {
	cfg := Default()
	if path := os.Getenv("PIPELINE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("pipeline config: %w", err)
		}
	}
	if value := os.Getenv("PIPELINE_DAILY_AT"); value != "" {
		cfg.Schedule.DailyAt = value
	}
	if len(cfg.Schedule.Buildings) == 0 {
		cfg.Schedule.Buildings = splitCSV(os.Getenv("PIPELINE_BUILDINGS"))
	}
	if cfg.WebhookURL == "" {
		cfg.WebhookURL = os.Getenv("PIPELINE_WEBHOOK_URL")
	}
	if value := os.Getenv("PIPELINE_WORKERS"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Workers = parsed
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects tables that would make stages misbehave.
func (c Config) Validate() error {
	if c.Version == "" {
		return errors.New("pipeline config: version required")
	}
	if c.Pipeline == "" {
		return errors.New("pipeline config: pipeline name required")
	}
	if c.AdvanceHours <= 0 {
		return errors.New("pipeline config: advance_hours must be positive")
	}
	if c.Monitor.WindowHours <= 0 || c.Monitor.Drift.LookbackHours <= 0 {
		return errors.New("pipeline config: monitor windows must be positive")
	}
	if len(c.Monitor.Spike.Tiers) == 0 {
		return errors.New("pipeline config: spike tiers required")
	}
	if !sort.SliceIsSorted(c.Monitor.Spike.Tiers, func(i, j int) bool {
		return c.Monitor.Spike.Tiers[i].Severity.Rank() > c.Monitor.Spike.Tiers[j].Severity.Rank()
	}) {
		return errors.New("pipeline config: spike tiers must be ordered by severity")
	}
	if c.Forecast.Lookback < 2 {
		return errors.New("pipeline config: forecast lookback must be at least 2")
	}
	if c.Decision.BlockRatio <= 0 || c.Decision.BlockRatio > 1 {
		return errors.New("pipeline config: block_ratio must be in (0,1]")
	}
	if _, ok := c.Policies[defaultPolicy]; !ok {
		return errors.New("pipeline config: default policy required")
	}
	for buildingID, override := range c.Buildings {
		if override.Policy == "" {
			continue
		}
		if _, ok := c.Policies[override.Policy]; !ok {
			return fmt.Errorf("pipeline config: building %s uses unknown policy %q", buildingID, override.Policy)
		}
	}
	return nil
}

// ForBuilding returns the effective settings of a building.
func (c Config) ForBuilding(buildingID string) BuildingSettings {
	settings := BuildingSettings{
		PolicyName:      defaultPolicy,
		Policy:          c.Policies[defaultPolicy],
		DailyBudgetKWh:  c.Monitor.Budget.DailyKWh,
		WeeklyBudgetKWh: c.Weekly.BudgetKWh,
		ForceBudget:     c.Decision.Budget.ForceReduction,
	}
	if c.Buildings == nil {
		return settings
	}
	override, ok := c.Buildings[buildingID]
	if !ok {
		return settings
	}
	return mergeOverride(settings, override, c.Policies)
}

func mergeOverride(base BuildingSettings, override BuildingOverride, policies map[string]Policy) BuildingSettings {
	if override.Policy != "" {
		if policy, ok := policies[override.Policy]; ok {
			base.PolicyName = override.Policy
			base.Policy = policy
		}
	}
	if override.DailyBudgetKWh != 0 {
		base.DailyBudgetKWh = override.DailyBudgetKWh
	}
	if override.WeeklyBudgetKWh != 0 {
		base.WeeklyBudgetKWh = override.WeeklyBudgetKWh
	}
	if override.ForceBudget != nil {
		base.ForceBudget = *override.ForceBudget
	}
	return base
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
