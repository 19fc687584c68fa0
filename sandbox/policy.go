package sandbox

// Default isolation policy values. Any relaxation of these must be explicit
// on the caller's side; BuildConfig never returns anything weaker.
const (
	DefaultMemoryMB       = 512
	DefaultCPUCores       = 0.5
	DefaultTimeoutSec     = 30
	DefaultMaxOutputBytes = 1 << 20 // 1 MiB of captured output per stream
	DefaultSeccompProfile = "runtime/default"
)

// NetworkMode controls what network access a sandbox receives
type NetworkMode string

// Network mode constants
const (
	NetworkNone       NetworkMode = "none"
	NetworkRestricted NetworkMode = "restricted"
	NetworkBuildOnly  NetworkMode = "build-only"
)

// ResourceLimits bounds the resources available to a sandbox run
type ResourceLimits struct {
	MemoryMB       int     `json:"memory_mb"`
	CPUCores       float64 `json:"cpu_cores"`
	TimeoutSec     int     `json:"timeout_sec"`
	MaxOutputBytes int     `json:"max_output_bytes"`
}

// NetworkPolicy controls network egress for a sandbox run
type NetworkPolicy struct {
	Mode              NetworkMode `json:"mode"`
	AllowedHosts      []string    `json:"allowed_hosts,omitempty"`
	BlockExfiltration bool        `json:"block_exfiltration"`
}

// SecurityPolicy hardens the sandbox filesystem and process environment
type SecurityPolicy struct {
	ReadOnlyFilesystem bool     `json:"read_only_filesystem"`
	NoNewPrivileges    bool     `json:"no_new_privileges"`
	DropCapabilities   []string `json:"drop_capabilities"`
	SeccompProfile     string   `json:"seccomp_profile"`
}

// SandboxConfig is the complete isolation policy attached to an execution
// request
type SandboxConfig struct {
	Runtime  string            `json:"runtime"`
	Limits   ResourceLimits    `json:"limits"`
	Network  NetworkPolicy     `json:"network"`
	Security SecurityPolicy    `json:"security"`
	Env      map[string]string `json:"env,omitempty"`
}

// BuildConfig returns the maximally restrictive isolation policy for the
// given runtime: no network, read-only filesystem, no new privileges, all
// capabilities dropped. It is a pure function of the runtime; unsupported
// runtimes are rejected by the request builder before reaching here.
func BuildConfig(runtime string) SandboxConfig {
	return SandboxConfig{
		Runtime: runtime,
		Limits: ResourceLimits{
			MemoryMB:       DefaultMemoryMB,
			CPUCores:       DefaultCPUCores,
			TimeoutSec:     DefaultTimeoutSec,
			MaxOutputBytes: DefaultMaxOutputBytes,
		},
		Network: NetworkPolicy{
			Mode:              NetworkNone,
			BlockExfiltration: true,
		},
		Security: SecurityPolicy{
			ReadOnlyFilesystem: true,
			NoNewPrivileges:    true,
			DropCapabilities:   []string{"ALL"},
			SeccompProfile:     DefaultSeccompProfile,
		},
		Env: map[string]string{},
	}
}
