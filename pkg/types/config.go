// Package types provides configuration types for the economy regulator.
package types

import "time"

// Mode selects whether the Controller applies plans or only recommends them.
type Mode string

const (
	ModeAutonomous Mode = "autonomous"
	ModeAdvisor    Mode = "advisor"
)

// Thresholds collects the principle-specific and pipeline-wide cutoffs that
// drive the Diagnoser, Simulator, and Planner.
type Thresholds struct {
	MaxAdjustmentPercent   float64 `json:"maxAdjustmentPercent"`
	SimulationMinIterations int    `json:"simulationMinIterations"`

	// Principle-specific cutoffs. Kept as a loosely-typed bag so new
	// principles can read their own thresholds without a schema change;
	// callers needing a specific cutoff go through GetOrDefault.
	Values map[string]float64 `json:"values,omitempty"`
}

// GetOrDefault returns a named threshold value, or def if unset.
func (t Thresholds) GetOrDefault(key string, def float64) float64 {
	if t.Values == nil {
		return def
	}
	if v, ok := t.Values[key]; ok {
		return v
	}
	return def
}

// DefaultThresholds returns the pipeline's out-of-the-box cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxAdjustmentPercent:    0.15,
		SimulationMinIterations: 100,
		Values:                  map[string]float64{},
	}
}

// PipelineConfig configures the Controller and its pipeline components, per
// spec §6.2.
type PipelineConfig struct {
	Mode                   Mode                   `json:"mode"`
	GracePeriod            int64                  `json:"gracePeriod"`
	CheckInterval          int64                  `json:"checkInterval"`
	MaxAdjustmentPercent   float64                `json:"maxAdjustmentPercent"`
	CooldownTicks          int64                  `json:"cooldownTicks"`
	SettlementWindowTicks  int64                  `json:"settlementWindowTicks"`
	SimulationMinIterations int                   `json:"simulationMinIterations"`
	ComplexityBudgetMax    int                    `json:"complexityBudgetMax"`
	ValidateRegistry       bool                   `json:"validateRegistry"`
	DominantRoles          []string               `json:"dominantRoles,omitempty"`
	Parameters             []RegisteredParameter  `json:"parameters,omitempty"`
	Thresholds             Thresholds             `json:"thresholds"`
}

// DefaultPipelineConfig returns the defaults enumerated in spec §6.2.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Mode:                    ModeAutonomous,
		GracePeriod:             50,
		CheckInterval:           5,
		MaxAdjustmentPercent:    0.15,
		CooldownTicks:           15,
		SettlementWindowTicks:   200,
		SimulationMinIterations: 100,
		ComplexityBudgetMax:     20,
		ValidateRegistry:        true,
		Thresholds:              DefaultThresholds(),
	}
}

// ServerConfig configures the HTTP + WebSocket transport shell.
type ServerConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	WebSocketPath      string        `json:"websocketPath"`
	ReadTimeout        time.Duration `json:"readTimeout"`
	WriteTimeout       time.Duration `json:"writeTimeout"`
	MaxConnections     int           `json:"maxConnections"`
	EnableMetrics      bool          `json:"enableMetrics"`
	MetricsPort        int           `json:"metricsPort"`
	APIKey             string        `json:"apiKey,omitempty"`
	CORSOrigin         string        `json:"corsOrigin"`
	MaxTicksPerSecond        float64 `json:"maxTicksPerSecond"`
	MaxTicksPerSecondPerConn float64 `json:"maxTicksPerSecondPerConn"`
}

// DefaultServerConfig returns sensible defaults for the transport shell.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:                     "0.0.0.0",
		Port:                     8080,
		WebSocketPath:            "/ws",
		ReadTimeout:              30 * time.Second,
		WriteTimeout:             30 * time.Second,
		MaxConnections:           100,
		EnableMetrics:            true,
		MetricsPort:              9090,
		CORSOrigin:               "*",
		MaxTicksPerSecond:        20,
		MaxTicksPerSecondPerConn: 10,
	}
}
