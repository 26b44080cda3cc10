package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/mdtxn/internal/app/config"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
)

// SettingFile is the settings file name inside the home directory
const SettingFile = "setting.yaml"

// RawSettings represents the structure of setting.yaml.
// Pointer fields tell an absent value from a zero value.
type RawSettings struct {
	// Logging
	LogLevel *string `yaml:"log_level,omitempty"`

	// Outcome records
	JournalPath *string `yaml:"journal_path,omitempty"`
	MetricsPath *string `yaml:"metrics_path,omitempty"`

	// Coordinator limits
	MaxTransactions *int `yaml:"max_transactions,omitempty"`
	MaxParticipants *int `yaml:"max_participants,omitempty"`

	// Remote participants
	ListenAddr *string `yaml:"listen_addr,omitempty"`

	Devices []RawDevice `yaml:"devices,omitempty"`
}

// RawDevice is one entry of the devices list
type RawDevice struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"`
	Path     string `yaml:"path,omitempty"`
	Bucket   string `yaml:"bucket,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// LoadSettings loads configuration from <home>/setting.yaml.
// Priority: setting.yaml > defaults
func LoadSettings(home string) (*config.AppConfig, error) {
	settings := &RawSettings{}
	configSource := "default"
	settingPath := ""

	yamlPath := filepath.Join(home, SettingFile)
	data, err := os.ReadFile(yamlPath)
	switch {
	case err == nil:
		if err := decodeSettings(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", yamlPath, err)
		}
		configSource = "yaml"
		settingPath = yamlPath
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read %s: %w", yamlPath, err)
	}

	applyDefaults(settings, home)

	devices, err := buildDevices(settings.Devices, home)
	if err != nil {
		return nil, err
	}
	if err := validate(settings); err != nil {
		return nil, err
	}

	return config.NewAppConfig(
		home,
		*settings.LogLevel,
		*settings.JournalPath,
		*settings.MetricsPath,
		*settings.MaxTransactions,
		*settings.MaxParticipants,
		*settings.ListenAddr,
		devices,
		configSource,
		settingPath,
	), nil
}

func decodeSettings(data []byte, settings *RawSettings) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(settings); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyDefaults fills in default values for any nil fields
func applyDefaults(settings *RawSettings, home string) {
	if settings.LogLevel == nil {
		v := "warn"
		settings.LogLevel = &v
	}
	if settings.JournalPath == nil {
		v := filepath.Join(home, "var", "journal.ndjson")
		settings.JournalPath = &v
	}
	if settings.MetricsPath == nil {
		v := filepath.Join(home, "var", "metrics.json")
		settings.MetricsPath = &v
	}
	if settings.MaxTransactions == nil {
		v := 0
		settings.MaxTransactions = &v
	}
	if settings.MaxParticipants == nil {
		v := 0
		settings.MaxParticipants = &v
	}
	if settings.ListenAddr == nil {
		v := "127.0.0.1:7420"
		settings.ListenAddr = &v
	}
}

func validate(settings *RawSettings) error {
	switch strings.ToLower(*settings.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: unknown level %q", *settings.LogLevel)
	}
	if *settings.MaxTransactions < 0 {
		return fmt.Errorf("max_transactions must not be negative")
	}
	if *settings.MaxParticipants < 0 {
		return fmt.Errorf("max_participants must not be negative")
	}
	return nil
}

// buildDevices validates the device list. Relative file and sqlite paths are resolved
// against home; a file device without a path lives in <home>/devices/<id>.
func buildDevices(raw []RawDevice, home string) ([]config.DeviceConfig, error) {
	seen := make(map[string]bool, len(raw))
	devices := make([]config.DeviceConfig, 0, len(raw))

	for i, r := range raw {
		id, err := distxn.NewDeviceID(r.ID)
		if err != nil {
			return nil, fmt.Errorf("devices[%d]: %w", i, err)
		}
		if seen[id.String()] {
			return nil, fmt.Errorf("devices[%d]: duplicate id %s", i, id)
		}
		seen[id.String()] = true

		d := config.DeviceConfig{
			ID:       id.String(),
			Kind:     strings.ToLower(strings.TrimSpace(r.Kind)),
			Path:     r.Path,
			Bucket:   r.Bucket,
			Prefix:   r.Prefix,
			Region:   r.Region,
			Endpoint: r.Endpoint,
		}
		switch d.Kind {
		case config.KindFile:
			if d.Path == "" {
				d.Path = filepath.Join("devices", d.ID)
			}
			d.Path = resolvePath(home, d.Path)
		case config.KindSQLite:
			if d.Path == "" {
				d.Path = filepath.Join("devices", d.ID+".db")
			}
			if d.Path != ":memory:" && !strings.HasPrefix(d.Path, "file:") {
				d.Path = resolvePath(home, d.Path)
			}
		case config.KindS3:
			if d.Bucket == "" {
				return nil, fmt.Errorf("devices[%d] (%s): s3 device needs a bucket", i, d.ID)
			}
		case config.KindRemote:
			if d.Path == "" {
				return nil, fmt.Errorf("devices[%d] (%s): remote device needs a path (base URL)", i, d.ID)
			}
		case config.KindMemory:
		default:
			return nil, fmt.Errorf("devices[%d] (%s): unknown kind %q", i, d.ID, r.Kind)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func resolvePath(home, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(home, p)
}

// CreateDefaultSettings returns the content of a default setting.yaml with one file
// device.
func CreateDefaultSettings() []byte {
	settings := &RawSettings{}
	applyDefaults(settings, DefaultHome)
	// paths follow the home directory the file is written to
	settings.JournalPath = nil
	settings.MetricsPath = nil
	settings.Devices = []RawDevice{{ID: "mdt0", Kind: config.KindFile}}

	data, _ := yaml.Marshal(settings)
	return data
}
