package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/aegntic/termvisor/internal/terminal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Terminal   TerminalConfig   `yaml:"terminal"`
	Resource   ResourceConfig   `yaml:"resource"`
	Watch      WatchConfig      `yaml:"watch"`
	Project    ProjectConfig    `yaml:"project"`
	Capability CapabilityConfig `yaml:"capability"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Privacy    PrivacyConfig    `yaml:"privacy"`
}

// PrivacyConfig controls what session metadata is exposed to connected clients.
type PrivacyConfig struct {
	// MaskWorkingDirs replaces full directory paths with just the last
	// path component (e.g. "/home/user/secret-project" → "secret-project").
	MaskWorkingDirs bool `yaml:"mask_working_dirs"`

	// MaskSessionIDs replaces session identifiers with opaque short hashes.
	MaskSessionIDs bool `yaml:"mask_session_ids"`

	// MaskPIDs hides process IDs from broadcast data.
	MaskPIDs bool `yaml:"mask_pids"`

	// MaskTmuxTargets hides tmux pane locations from broadcast data.
	MaskTmuxTargets bool `yaml:"mask_tmux_targets"`

	// AllowedPaths is a list of glob patterns. When non-empty, only
	// sessions whose working directory matches at least one pattern are
	// broadcast.
	AllowedPaths []string `yaml:"allowed_paths"`

	// BlockedPaths is a list of glob patterns. Sessions whose working
	// directory matches any pattern are excluded from broadcast.
	// BlockedPaths is evaluated after AllowedPaths.
	BlockedPaths []string `yaml:"blocked_paths"`
}

// NewPrivacyFilter builds a terminal.PrivacyFilter from this configuration.
func (p PrivacyConfig) NewPrivacyFilter() *terminal.PrivacyFilter {
	return &terminal.PrivacyFilter{
		MaskWorkingDirs: p.MaskWorkingDirs,
		MaskSessionIDs:  p.MaskSessionIDs,
		MaskPIDs:        p.MaskPIDs,
		MaskTmuxTargets: p.MaskTmuxTargets,
		AllowedPaths:    p.AllowedPaths,
		BlockedPaths:    p.BlockedPaths,
	}
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
	MaxConnections int      `yaml:"max_connections"`
}

// TerminalConfig governs the Virtual Terminal Pool (spec.md §4.5).
type TerminalConfig struct {
	MaxTerminals        int           `yaml:"max_terminals"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	PreallocPoolSize    int           `yaml:"prealloc_pool_size"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
	ScrollbackLines     int           `yaml:"scrollback_lines"`
	FreshnessWindow     time.Duration `yaml:"freshness_window"`
	CreateTimeout       time.Duration `yaml:"create_timeout"`

	// AttentionConfidenceFloor is the minimum confidence required for the
	// attention classifier to mark a session as awaiting input (spec.md §6
	// default 0.6).
	AttentionConfidenceFloor float64 `yaml:"attention_confidence_floor"`
}

// ResourceConfig governs the Resource Monitor's admission thresholds
// (spec.md §4.1). Immutable after Load.
type ResourceConfig struct {
	MaxMemoryMB     int           `yaml:"max_memory_mb"`
	MaxCPUPercent   float64       `yaml:"max_cpu_percent"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
	HealthThreshold int           `yaml:"health_threshold"`
}

// WatchConfig governs the File-System Watcher (spec.md §4.3).
type WatchConfig struct {
	DebounceWindow    time.Duration `yaml:"debounce_window"`
	EventRateCap      int           `yaml:"event_rate_cap"`
	SourceExtensions  []string      `yaml:"source_extensions"`
	ConfigFilenames   []string      `yaml:"config_filenames"`
}

// ProjectConfig governs the Project Detector + cache (spec.md §4.4).
type ProjectConfig struct {
	CacheMemoryMB            int           `yaml:"cache_memory_mb"`
	MinConfidenceForCache    float64       `yaml:"min_confidence_for_cache"`
	CacheServeConfidenceFloor float64      `yaml:"cache_serve_confidence_floor"`
	MaxAnalysisTime          time.Duration `yaml:"max_analysis_time"`
	MaxProjectFiles          int           `yaml:"max_project_files"`
	CacheTTL                 time.Duration `yaml:"cache_ttl"`
	PurgeInterval            time.Duration `yaml:"purge_interval"`
	DiscoveryPaths           []string      `yaml:"discovery_paths"`
}

// CapabilityConfig governs the Capability Server Manager (spec.md §4.6).
type CapabilityConfig struct {
	MaxConcurrentServers int           `yaml:"max_concurrent_servers"`
	MaxServersPerProject int           `yaml:"max_servers_per_project"` // 0 = derive from MaxConcurrentServers/2
	StartupTimeout       time.Duration `yaml:"startup_timeout"`
	HealthCheckInterval  time.Duration `yaml:"health_check_interval"`
	ShutdownGrace        time.Duration `yaml:"shutdown_grace"`
	AutoRestart          bool          `yaml:"auto_restart"`
	MaxMemoryMB          int           `yaml:"max_memory_mb"`
	MaxCPUPercent        float64       `yaml:"max_cpu_percent"`
	MaxFileDescriptors   int           `yaml:"max_file_descriptors"`
}

// BridgeConfig governs the Natural-Language Bridge (spec.md §4.7).
type BridgeConfig struct {
	CommandPrefixes      []string      `yaml:"command_prefixes"`
	CallTimeout          time.Duration `yaml:"call_timeout"`
	ConversationLogSize  int           `yaml:"conversation_log_size"`
}

func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads config from the given path, or returns default config if path doesn't exist
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return Load(path)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "127.0.0.1",
			MaxConnections: 1000,
		},
		Terminal: TerminalConfig{
			MaxTerminals:             50,
			IdleTimeout:              300 * time.Second,
			PreallocPoolSize:         5,
			MaintenanceInterval:      30 * time.Second,
			ScrollbackLines:          10000,
			FreshnessWindow:          60 * time.Second,
			CreateTimeout:            10 * time.Second,
			AttentionConfidenceFloor: 0.6,
		},
		Resource: ResourceConfig{
			MaxMemoryMB:     200,
			MaxCPUPercent:   90,
			SampleInterval:  100 * time.Millisecond,
			HealthThreshold: 3,
		},
		Watch: WatchConfig{
			DebounceWindow: 200 * time.Millisecond,
			EventRateCap:   100,
			SourceExtensions: []string{
				".go", ".rs", ".ts", ".tsx", ".js", ".jsx", ".py", ".java",
				".rb", ".c", ".cpp", ".h", ".hpp",
			},
			ConfigFilenames: []string{
				"Cargo.toml", "package.json", "tsconfig.json", "pyproject.toml",
				"go.mod", "pom.xml", "build.gradle", "Dockerfile", ".env",
				"Makefile", "Gemfile",
			},
		},
		Project: ProjectConfig{
			CacheMemoryMB:             15,
			MinConfidenceForCache:     0.8,
			CacheServeConfidenceFloor: 0.9,
			MaxAnalysisTime:           2 * time.Second,
			MaxProjectFiles:           5000,
			CacheTTL:                  60 * time.Minute,
			PurgeInterval:             5 * time.Minute,
		},
		Capability: CapabilityConfig{
			MaxConcurrentServers: 10,
			StartupTimeout:       30 * time.Second,
			HealthCheckInterval:  30 * time.Second,
			ShutdownGrace:        5 * time.Second,
			AutoRestart:          true,
			MaxMemoryMB:          100,
			MaxCPUPercent:        10,
			MaxFileDescriptors:   100,
		},
		Bridge: BridgeConfig{
			CommandPrefixes:     []string{"ai", "ae"},
			CallTimeout:         30 * time.Second,
			ConversationLogSize: 200,
		},
	}
}

// MaxServersPerProject resolves the configured per-project server cap,
// deriving it from MaxConcurrentServers/2 when unset (spec.md §4.6 step 2).
func (c *Config) MaxServersPerProject() int {
	if c.Capability.MaxServersPerProject > 0 {
		return c.Capability.MaxServersPerProject
	}
	return c.Capability.MaxConcurrentServers / 2
}

// Diff compares two configs and returns human-readable descriptions of what
// changed. It covers the privacy section, which can be applied at runtime,
// and selected terminal, project, capability and bridge settings, which
// take effect only after a restart.
func Diff(old, new *Config) []string {
	var changes []string

	if old.Privacy.MaskWorkingDirs != new.Privacy.MaskWorkingDirs {
		changes = append(changes, fmt.Sprintf("privacy.mask_working_dirs: %v → %v", old.Privacy.MaskWorkingDirs, new.Privacy.MaskWorkingDirs))
	}
	if old.Privacy.MaskSessionIDs != new.Privacy.MaskSessionIDs {
		changes = append(changes, fmt.Sprintf("privacy.mask_session_ids: %v → %v", old.Privacy.MaskSessionIDs, new.Privacy.MaskSessionIDs))
	}
	if old.Privacy.MaskPIDs != new.Privacy.MaskPIDs {
		changes = append(changes, fmt.Sprintf("privacy.mask_pids: %v → %v", old.Privacy.MaskPIDs, new.Privacy.MaskPIDs))
	}
	if old.Privacy.MaskTmuxTargets != new.Privacy.MaskTmuxTargets {
		changes = append(changes, fmt.Sprintf("privacy.mask_tmux_targets: %v → %v", old.Privacy.MaskTmuxTargets, new.Privacy.MaskTmuxTargets))
	}
	if !slices.Equal(old.Privacy.AllowedPaths, new.Privacy.AllowedPaths) {
		changes = append(changes, fmt.Sprintf("privacy.allowed_paths: %v → %v", old.Privacy.AllowedPaths, new.Privacy.AllowedPaths))
	}
	if !slices.Equal(old.Privacy.BlockedPaths, new.Privacy.BlockedPaths) {
		changes = append(changes, fmt.Sprintf("privacy.blocked_paths: %v → %v", old.Privacy.BlockedPaths, new.Privacy.BlockedPaths))
	}

	if old.Terminal.MaxTerminals != new.Terminal.MaxTerminals {
		changes = append(changes, fmt.Sprintf("terminal.max_terminals: %d → %d", old.Terminal.MaxTerminals, new.Terminal.MaxTerminals))
	}
	if old.Terminal.IdleTimeout != new.Terminal.IdleTimeout {
		changes = append(changes, fmt.Sprintf("terminal.idle_timeout: %s → %s", old.Terminal.IdleTimeout, new.Terminal.IdleTimeout))
	}
	if old.Terminal.PreallocPoolSize != new.Terminal.PreallocPoolSize {
		changes = append(changes, fmt.Sprintf("terminal.prealloc_pool_size: %d → %d", old.Terminal.PreallocPoolSize, new.Terminal.PreallocPoolSize))
	}

	if old.Project.CacheMemoryMB != new.Project.CacheMemoryMB {
		changes = append(changes, fmt.Sprintf("project.cache_memory_mb: %d → %d", old.Project.CacheMemoryMB, new.Project.CacheMemoryMB))
	}
	if old.Project.MinConfidenceForCache != new.Project.MinConfidenceForCache {
		changes = append(changes, fmt.Sprintf("project.min_confidence_for_cache: %.2f → %.2f", old.Project.MinConfidenceForCache, new.Project.MinConfidenceForCache))
	}

	if old.Capability.MaxConcurrentServers != new.Capability.MaxConcurrentServers {
		changes = append(changes, fmt.Sprintf("capability.max_concurrent_servers: %d → %d", old.Capability.MaxConcurrentServers, new.Capability.MaxConcurrentServers))
	}
	if old.Capability.AutoRestart != new.Capability.AutoRestart {
		changes = append(changes, fmt.Sprintf("capability.auto_restart: %v → %v", old.Capability.AutoRestart, new.Capability.AutoRestart))
	}

	if !slices.Equal(old.Bridge.CommandPrefixes, new.Bridge.CommandPrefixes) {
		changes = append(changes, fmt.Sprintf("bridge.command_prefixes: %v → %v", old.Bridge.CommandPrefixes, new.Bridge.CommandPrefixes))
	}

	return changes
}

func defaultStateDir() string {
	if value := os.Getenv("XDG_STATE_HOME"); value != "" {
		return value
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "state")
}

func defaultConfigDir() string {
	if value := os.Getenv("XDG_CONFIG_HOME"); value != "" {
		return value
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "termvisor", "config.yaml")
}

// DefaultStateDir returns the default XDG-compliant state directory for
// termvisor.
func DefaultStateDir() string {
	return filepath.Join(defaultStateDir(), "termvisor")
}
