package config

// Config provides read-only access to application configuration.
// This interface abstracts the configuration source (YAML, defaults)
// and keeps the app layer independent of infrastructure details.
type Config interface {
	// Core settings
	Home() string     // Base directory for mdtxn (MDTXN_HOME)
	LogLevel() string // Stderr log level

	// Outcome records
	JournalPath() string // NDJSON outcome journal
	MetricsPath() string // Persisted metrics snapshot

	// Coordinator limits
	MaxTransactions() int // Live transactions; 0 means unbounded
	MaxParticipants() int // Participants besides the master; 0 means unbounded

	// Remote participants
	ListenAddr() string // Address served by `mdtxn serve`

	// Devices
	Devices() []DeviceConfig

	// Metadata
	ConfigSource() string // Source of configuration: "yaml" or "default"
	SettingPath() string  // Path to setting.yaml if loaded from file
}

// Device kinds
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindS3     = "s3"
	KindRemote = "remote"
	KindMemory = "memory"
)

// DeviceConfig describes one configured device.
// Path is a directory for file devices, a DSN for sqlite and a base URL for remote devices.
type DeviceConfig struct {
	ID       string
	Kind     string
	Path     string
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// AppConfig is the concrete implementation of Config interface.
type AppConfig struct {
	home     string
	logLevel string

	journalPath string
	metricsPath string

	maxTransactions int
	maxParticipants int

	listenAddr string
	devices    []DeviceConfig

	configSource string
	settingPath  string
}

// Home returns the base directory
func (c *AppConfig) Home() string {
	return c.home
}

// LogLevel returns the stderr log level
func (c *AppConfig) LogLevel() string {
	return c.logLevel
}

// JournalPath returns the outcome journal path
func (c *AppConfig) JournalPath() string {
	return c.journalPath
}

// MetricsPath returns the metrics snapshot path
func (c *AppConfig) MetricsPath() string {
	return c.metricsPath
}

// MaxTransactions returns the live transaction limit
func (c *AppConfig) MaxTransactions() int {
	return c.maxTransactions
}

// MaxParticipants returns the participant limit
func (c *AppConfig) MaxParticipants() int {
	return c.maxParticipants
}

// ListenAddr returns the serve address
func (c *AppConfig) ListenAddr() string {
	return c.listenAddr
}

// Devices returns a copy of the configured devices
func (c *AppConfig) Devices() []DeviceConfig {
	return append([]DeviceConfig(nil), c.devices...)
}

// ConfigSource returns the source of configuration
func (c *AppConfig) ConfigSource() string {
	return c.configSource
}

// SettingPath returns the path to setting.yaml if loaded from file
func (c *AppConfig) SettingPath() string {
	return c.settingPath
}

// NewAppConfig creates a new AppConfig with the given values.
// This is typically called by the infrastructure layer after loading the settings file.
func NewAppConfig(
	home, logLevel string,
	journalPath, metricsPath string,
	maxTransactions, maxParticipants int,
	listenAddr string, devices []DeviceConfig,
	configSource, settingPath string,
) *AppConfig {
	return &AppConfig{
		home:            home,
		logLevel:        logLevel,
		journalPath:     journalPath,
		metricsPath:     metricsPath,
		maxTransactions: maxTransactions,
		maxParticipants: maxParticipants,
		listenAddr:      listenAddr,
		devices:         append([]DeviceConfig(nil), devices...),
		configSource:    configSource,
		settingPath:     settingPath,
	}
}
