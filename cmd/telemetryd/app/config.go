package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/launch-telemetry/internal/cache"
	"github.com/roman-kulish/launch-telemetry/internal/history"
	"github.com/roman-kulish/launch-telemetry/internal/processing"
	"github.com/roman-kulish/launch-telemetry/internal/serial"
	"github.com/roman-kulish/launch-telemetry/internal/storage"
)

const defaultListen = ":3000"

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config represents the main application configuration
type Config struct {
	Settings Settings      `yaml:"settings"`
	Devices  Devices       `yaml:"devices"`
	Storage  StorageConfig `yaml:"storage"`
	Publish  PublishConfig `yaml:"publish"`
	Cache    CacheConfig   `yaml:"cache"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel slog.Level `yaml:"logLevel"`
	Listen   string     `yaml:"listen"`
}

// Devices holds the configuration of each supported device.
type Devices struct {
	Rocket DeviceConfig `yaml:"rocket"`
	CanSat DeviceConfig `yaml:"cansat"`
}

// DeviceConfig represents a single device configuration
type DeviceConfig struct {
	Enabled              bool     `yaml:"enabled"`
	CandidatePorts       []string `yaml:"candidatePorts"`
	PreferredPortEnv     string   `yaml:"preferredPortEnv"`
	Manufacturers        []string `yaml:"manufacturers"`
	BaudRate             int      `yaml:"baudRate"`
	ReconnectBaseDelay   Duration `yaml:"reconnectBaseDelay"`
	MaxReconnectAttempts int      `yaml:"maxReconnectAttempts"`
	DiscoveryTimeout     Duration `yaml:"discoveryTimeout"`
	HistoryCapacity      int      `yaml:"historyCapacity"`

	// EventID is the event readings are stored under. When zero the latest
	// open event is used.
	EventID int64 `yaml:"eventID"`

	Limits processing.Limits          `yaml:"limits"`
	Alerts processing.AlertThresholds `yaml:"alerts"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Driver string      `yaml:"driver"`
	DSN    string      `yaml:"dsn"`
	Event  EventConfig `yaml:"event"`
}

// EventConfig describes the event opened when no event is open.
type EventConfig struct {
	Kind        storage.EventKind `yaml:"kind"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
}

type PublishConfig struct {
	AMQP      AMQPConfig      `yaml:"amqp"`
	Websocket WebsocketConfig `yaml:"websocket"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type WebsocketConfig struct {
	Enabled bool `yaml:"enabled"`
}

type CacheConfig struct {
	TTL      Duration `yaml:"ttl"`
	Capacity int      `yaml:"capacity"`
}

var (
	manufacturers = []string{"silicon labs", "cp210", "arduino", "ch340", "ftdi", "prolific"}
)

// NewConfig returns the configuration used for every key the file omits.
func NewConfig() *Config {
	return &Config{
		Settings: Settings{
			LogLevel: slog.LevelInfo,
			Listen:   defaultListen,
		},
		Devices: Devices{
			Rocket: DeviceConfig{
				Enabled:              true,
				CandidatePorts:       []string{"COM3", "COM4", "COM5", "/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyACM0"},
				PreferredPortEnv:     "ROCKET_PORT",
				Manufacturers:        manufacturers,
				BaudRate:             serial.DefaultBaudRate,
				ReconnectBaseDelay:   Duration(serial.DefaultReconnectBaseDelay),
				MaxReconnectAttempts: serial.DefaultMaxReconnectAttempts,
				DiscoveryTimeout:     Duration(serial.DefaultDiscoveryTimeout),
				HistoryCapacity:      history.DefaultCapacity,
				Limits: processing.Limits{
					MaxAcceleration: processing.Float(20),
					MinPressure:     processing.Float(500),
					MaxPressure:     processing.Float(1100),
					MinTemperature:  processing.Float(-40),
					MaxTemperature:  processing.Float(85),
					MinRSSI:         processing.Float(-100),
					MinSNR:          processing.Float(5),
				},
				Alerts: processing.AlertThresholds{
					MaxAcceleration: processing.Float(20),
					MaxPacketLoss:   processing.Float(100),
				},
			},
			CanSat: DeviceConfig{
				Enabled:              true,
				CandidatePorts:       []string{"COM6", "COM7", "/dev/ttyUSB2", "/dev/ttyACM1"},
				PreferredPortEnv:     "CANSAT_PORT",
				Manufacturers:        manufacturers,
				BaudRate:             serial.DefaultBaudRate,
				ReconnectBaseDelay:   Duration(serial.DefaultReconnectBaseDelay),
				MaxReconnectAttempts: serial.DefaultMaxReconnectAttempts,
				DiscoveryTimeout:     Duration(serial.DefaultDiscoveryTimeout),
				HistoryCapacity:      history.DefaultCapacity,
				Limits: processing.Limits{
					MaxAcceleration:     processing.Float(20),
					PerAxisAcceleration: true,
					MinPressure:         processing.Float(50000),
					MaxPressure:         processing.Float(110000),
					MinTemperature:      processing.Float(-40),
					MaxTemperature:      processing.Float(85),
					MinCO2:              processing.Float(0),
					MaxCO2:              processing.Float(40000),
				},
				Alerts: processing.AlertThresholds{
					MaxAcceleration: processing.Float(20),
					MaxCO2:          processing.Float(5000),
					NoGPSFix:        true,
				},
			},
		},
		Storage: StorageConfig{
			Driver: storage.DriverSQLite,
			DSN:    "telemetry.sqlite",
			Event: EventConfig{
				Kind: storage.EventTest,
				Name: "ground session",
			},
		},
		Publish: PublishConfig{
			AMQP:      AMQPConfig{Exchange: "telemetry"},
			Websocket: WebsocketConfig{Enabled: true},
		},
		Cache: CacheConfig{
			TTL:      Duration(cache.DefaultTTL),
			Capacity: cache.DefaultCapacity,
		},
	}
}

// LoadConfig reads the yaml file at path over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	config := NewConfig()
	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.Settings.Listen == "" {
		return errors.New("app.Config: listen address is required")
	}
	if !c.Devices.Rocket.Enabled && !c.Devices.CanSat.Enabled {
		return errors.New("app.Config: no devices enabled")
	}
	if err := c.Devices.Rocket.Validate(); err != nil {
		return fmt.Errorf("rocket: %w", err)
	}
	if err := c.Devices.CanSat.Validate(); err != nil {
		return fmt.Errorf("cansat: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if c.Publish.AMQP.URL != "" && c.Publish.AMQP.Exchange == "" {
		return errors.New("app.Config: AMQP exchange is required")
	}
	if c.Cache.TTL < 0 || c.Cache.Capacity < 0 {
		return errors.New("app.Config: cache TTL and capacity must not be negative")
	}
	return nil
}

func (c *DeviceConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("app.DeviceConfig: baud rate must be positive: %d", c.BaudRate)
	}
	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("app.DeviceConfig: reconnect base delay must be positive: %s", time.Duration(c.ReconnectBaseDelay))
	}
	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("app.DeviceConfig: max reconnect attempts must be positive: %d", c.MaxReconnectAttempts)
	}
	if c.DiscoveryTimeout < 0 {
		return fmt.Errorf("app.DeviceConfig: discovery timeout must not be negative: %s", time.Duration(c.DiscoveryTimeout))
	}
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("app.DeviceConfig: history capacity must be positive: %d", c.HistoryCapacity)
	}
	if c.EventID < 0 {
		return fmt.Errorf("app.DeviceConfig: invalid event ID: %d", c.EventID)
	}
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	return c.Alerts.Validate()
}

// Connector returns the transport configuration of the device.
func (c *DeviceConfig) Connector() serial.Config {
	var preferred string
	if c.PreferredPortEnv != "" {
		preferred = os.Getenv(c.PreferredPortEnv)
	}
	if preferred == "" {
		preferred = os.Getenv("SERIAL_PORT")
	}

	return serial.Config{
		Discovery: serial.Discovery{
			Preferred:     preferred,
			Manufacturers: c.Manufacturers,
			Candidates:    c.CandidatePorts,
		},
		BaudRate:             c.BaudRate,
		ReconnectBaseDelay:   time.Duration(c.ReconnectBaseDelay),
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		DiscoveryTimeout:     time.Duration(c.DiscoveryTimeout),
	}
}

func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case storage.DriverSQLite, storage.DriverMySQL:
	default:
		return fmt.Errorf("app.StorageConfig: unsupported driver: %s", c.Driver)
	}
	if c.DSN == "" {
		return errors.New("app.StorageConfig: DSN is required")
	}
	if c.Event.Kind != storage.EventLaunch && c.Event.Kind != storage.EventTest {
		return fmt.Errorf("app.StorageConfig: invalid event kind: %s", c.Event.Kind)
	}
	return nil
}
