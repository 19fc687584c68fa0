package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig       `mapstructure:"server"`
	Logging  LoggingConfig      `mapstructure:"logging"`
	Sandbox  SandboxConfig      `mapstructure:"sandbox"`
	Verifier VerifierConfig     `mapstructure:"verifier"`
	DepVet   DepVetConfig       `mapstructure:"depvet"`
	Contract ContractConfig     `mapstructure:"contract"`
	Runtimes map[string]Runtime `mapstructure:"runtimes"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// SandboxConfig holds sandbox backend configuration
type SandboxConfig struct {
	Backend            string `mapstructure:"backend"`
	EnableLocalBackend bool   `mapstructure:"enable_local_backend"`
	MaxConcurrent      int    `mapstructure:"max_concurrent"`
}

// VerifierConfig holds verification pipeline configuration.
// The per-phase SLAs bound how long the orchestrator waits on each
// collaborator before marking the phase failed.
type VerifierConfig struct {
	MaxRepairBudget       int `mapstructure:"max_repair_budget"`
	DependencyVettingSec  int `mapstructure:"dependency_vetting_sec"`
	StaticAnalysisSec     int `mapstructure:"static_analysis_sec"`
	TestExecutionSec      int `mapstructure:"test_execution_sec"`
	ContractValidationSec int `mapstructure:"contract_validation_sec"`
}

// DepVetConfig holds dependency vetting configuration
type DepVetConfig struct {
	PolicyFile string `mapstructure:"policy_file"`
}

// ContractConfig holds contract validator configuration
type ContractConfig struct {
	ValidatorURL string `mapstructure:"validator_url"`
	TimeoutSec   int    `mapstructure:"timeout_sec"`
}

// Runtime holds per-runtime settings
type Runtime struct {
	Image string `mapstructure:"image"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("sandbox.backend", "docker")
	viper.SetDefault("sandbox.enable_local_backend", false)
	viper.SetDefault("sandbox.max_concurrent", 4)

	viper.SetDefault("verifier.max_repair_budget", 5)
	viper.SetDefault("verifier.dependency_vetting_sec", 10)
	viper.SetDefault("verifier.static_analysis_sec", 60)
	viper.SetDefault("verifier.test_execution_sec", 120)
	viper.SetDefault("verifier.contract_validation_sec", 30)

	viper.SetDefault("depvet.policy_file", "depvet-policy.yaml")

	viper.SetDefault("contract.validator_url", "")
	viper.SetDefault("contract.timeout_sec", 30)

	// Runtime defaults
	viper.SetDefault("runtimes.python.image", "python:3.12-slim")
	viper.SetDefault("runtimes.node.image", "node:20-alpine")
	viper.SetDefault("runtimes.typescript.image", "node:20-alpine")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	supportedBackends := map[string]bool{
		"docker": true,
		"podman": true,
		"local":  c.Sandbox.EnableLocalBackend, // local only enabled if specifically allowed
	}

	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.MaxConcurrent <= 0 {
		return fmt.Errorf("sandbox.max_concurrent must be positive, got: %d", c.Sandbox.MaxConcurrent)
	}

	if c.Verifier.MaxRepairBudget <= 0 {
		return fmt.Errorf("verifier.max_repair_budget must be positive, got: %d", c.Verifier.MaxRepairBudget)
	}

	for name, sec := range map[string]int{
		"verifier.dependency_vetting_sec":  c.Verifier.DependencyVettingSec,
		"verifier.static_analysis_sec":     c.Verifier.StaticAnalysisSec,
		"verifier.test_execution_sec":      c.Verifier.TestExecutionSec,
		"verifier.contract_validation_sec": c.Verifier.ContractValidationSec,
	} {
		if sec <= 0 {
			return fmt.Errorf("%s must be positive, got: %d", name, sec)
		}
	}

	if c.Contract.TimeoutSec <= 0 {
		return fmt.Errorf("contract.timeout_sec must be positive, got: %d", c.Contract.TimeoutSec)
	}

	return nil
}

// PhaseTimeout returns the SLA for the named phase as a duration.
// Unknown phase names fall back to the static analysis SLA.
func (c *Config) PhaseTimeout(phase string) time.Duration {
	sec := c.Verifier.StaticAnalysisSec
	switch phase {
	case "dependencies":
		sec = c.Verifier.DependencyVettingSec
	case "static_analysis":
		sec = c.Verifier.StaticAnalysisSec
	case "tests":
		sec = c.Verifier.TestExecutionSec
	case "contract":
		sec = c.Verifier.ContractValidationSec
	}
	return time.Duration(sec) * time.Second
}

// ContractTimeout returns the contract validator request timeout as a duration
func (c *Config) ContractTimeout() time.Duration {
	return time.Duration(c.Contract.TimeoutSec) * time.Second
}
