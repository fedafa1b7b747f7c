package ictboard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hubertat/ictboard/drivers"
	"github.com/hubertat/ictboard/errcode"
)

const (
	defaultRemoteNetwork     = "tcp"
	defaultRemoteAddress     = "127.0.0.1:7010"
	defaultTelemetryInterval = "10s"
	defaultMeasurement       = "ictboard"
	defaultMqttTopic         = "ictboard"
)

type PortConfig struct {
	Name      string `yaml:"Name"`
	Direction string `yaml:"Direction"`
	Width     uint8  `yaml:"Width"`
}

type BoardConfig struct {
	Name           string       `yaml:"Name"`
	Driver         string       `yaml:"Driver"`
	Ports          []PortConfig `yaml:"Ports"`
	AnalogChannels []int        `yaml:"AnalogChannels"`
}

// BoardsConfig is the role lookup table: each role names its physical board and port layout.
type BoardsConfig struct {
	RelayA BoardConfig `yaml:"RelayA"`
	RelayB BoardConfig `yaml:"RelayB"`
	Status BoardConfig `yaml:"Status"`
	Sensor BoardConfig `yaml:"Sensor"`
}

func (bc *BoardsConfig) ForRole(role Role) *BoardConfig {
	switch role {
	case RelayA:
		return &bc.RelayA
	case RelayB:
		return &bc.RelayB
	case Status:
		return &bc.Status
	default:
		return &bc.Sensor
	}
}

type RemoteConfig struct {
	Network string `yaml:"Network"`
	Address string `yaml:"Address"`
}

type HttpConfig struct {
	Addr  string `yaml:"Addr"`
	Token string `yaml:"Token"`
}

type MqttConfig struct {
	Broker string `yaml:"Broker"`
	Topic  string `yaml:"Topic"`
}

type InfluxConfig struct {
	Host         string `yaml:"Host"`
	Token        string `yaml:"Token"`
	Organization string `yaml:"Organization"`
	Bucket       string `yaml:"Bucket"`
	Measurement  string `yaml:"Measurement"`
}

type TelemetryConfig struct {
	Interval string `yaml:"Interval"`
}

type HomeKitConfig struct {
	Pin       string `yaml:"Pin"`
	Directory string `yaml:"Directory"`
	Address   string `yaml:"Address"`
	Debug     bool   `yaml:"Debug"`
}

type Config struct {
	Name     string `yaml:"Name"`
	LogLevel string `yaml:"LogLevel"`

	Boards BoardsConfig `yaml:"Boards"`

	Mock     *drivers.MockProvider `yaml:"Mock"`
	Mcp23017 *drivers.McpIO        `yaml:"Mcp23017"`
	Gpio     *drivers.GpIO         `yaml:"Gpio"`
	Modbus   *drivers.ModbusIO     `yaml:"Modbus"`

	Remote    RemoteConfig    `yaml:"Remote"`
	Http      HttpConfig      `yaml:"Http"`
	Mqtt      MqttConfig      `yaml:"Mqtt"`
	Influx    InfluxConfig    `yaml:"Influx"`
	Telemetry TelemetryConfig `yaml:"Telemetry"`
	HomeKit   HomeKitConfig   `yaml:"HomeKit"`

	MappingFile string     `yaml:"MappingFile"`
	Mapping     *SignalMap `yaml:"Mapping"`
}

// LoadConfig reads path (.toml, .yaml, .yml or .json), fills defaults, loads the
// mapping file if one is named and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errors.Wrap(errcode.Configuration, fmt.Sprintf("decode %s: %v", path, err))
		}
	case ".yaml", ".yml", ".json":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrap(errcode.Configuration, fmt.Sprintf("decode %s: %v", path, err))
		}
	default:
		return nil, errors.Wrapf(errcode.Configuration, "unsupported config format %s", path)
	}

	cfg.Normalize()

	if cfg.Mapping == nil && len(cfg.MappingFile) > 0 {
		mappingPath := cfg.MappingFile
		if !filepath.IsAbs(mappingPath) {
			mappingPath = filepath.Join(filepath.Dir(path), mappingPath)
		}
		sm, err := LoadSignalMap(mappingPath)
		if err != nil {
			return nil, err
		}
		cfg.Mapping = sm
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Providers returns every configured provider.
func (c *Config) Providers() (providers []drivers.Provider) {
	if c.Mock != nil {
		providers = append(providers, c.Mock)
	}
	if c.Mcp23017 != nil {
		providers = append(providers, c.Mcp23017)
	}
	if c.Gpio != nil {
		providers = append(providers, c.Gpio)
	}
	if c.Modbus != nil {
		providers = append(providers, c.Modbus)
	}
	return
}

// Normalize fills every unset value with its default.
func (c *Config) Normalize() {
	providers := c.Providers()

	for i, role := range Roles {
		bc := c.Boards.ForRole(role)
		if len(bc.Name) == 0 {
			bc.Name = fmt.Sprintf("Dev%d", i+1)
		}
		if len(bc.Driver) == 0 && len(providers) == 1 {
			bc.Driver = providers[0].String()
		}
		if len(bc.Ports) == 0 {
			for n := 0; n < PortsPerBoard; n++ {
				bc.Ports = append(bc.Ports, PortConfig{Name: fmt.Sprintf("port%d", n)})
			}
		}
		for n := range bc.Ports {
			if len(bc.Ports[n].Direction) == 0 {
				bc.Ports[n].Direction = role.Kind().Direction().String()
			}
			if bc.Ports[n].Width == 0 {
				bc.Ports[n].Width = 8
			}
		}
		if role == Sensor && bc.AnalogChannels == nil {
			bc.AnalogChannels = []int{0, 1}
		}
	}

	if len(c.Remote.Network) == 0 {
		c.Remote.Network = defaultRemoteNetwork
	}
	if len(c.Remote.Address) == 0 {
		c.Remote.Address = defaultRemoteAddress
	}
	if len(c.Telemetry.Interval) == 0 {
		c.Telemetry.Interval = defaultTelemetryInterval
	}
	if len(c.Influx.Measurement) == 0 {
		c.Influx.Measurement = defaultMeasurement
	}
	if len(c.Mqtt.Topic) == 0 {
		c.Mqtt.Topic = defaultMqttTopic
	}
}

// Validate reports the first inconsistency. It never modifies c.
func (c *Config) Validate() error {
	if len(c.LogLevel) > 0 {
		if _, err := log.ParseLevel(c.LogLevel); err != nil {
			return errors.Wrapf(errcode.Configuration, "log level %q: %v", c.LogLevel, err)
		}
	}
	if _, err := c.TelemetryInterval(); err != nil {
		return err
	}

	available := drivers.MapProviders(c.Providers()...)
	boardNames := make(map[string]Role)

	for _, role := range Roles {
		bc := c.Boards.ForRole(role)
		if len(bc.Name) == 0 {
			return errors.Wrapf(errcode.Configuration, "%s: board name missing", role)
		}
		if other, taken := boardNames[bc.Name]; taken {
			return errors.Wrapf(errcode.Configuration, "%s: board %s already used by %s", role, bc.Name, other)
		}
		boardNames[bc.Name] = role

		if _, found := available[bc.Driver]; !found {
			return errors.Wrapf(errcode.Configuration, "%s: driver %q not configured", role, bc.Driver)
		}
		if len(bc.Ports) != PortsPerBoard {
			return errors.Wrapf(errcode.Configuration, "%s: %d ports configured, need %d", role, len(bc.Ports), PortsPerBoard)
		}

		portNames := make(map[string]bool)
		for _, pc := range bc.Ports {
			if portNames[pc.Name] {
				return errors.Wrapf(errcode.Configuration, "%s: duplicate port %s", role, pc.Name)
			}
			portNames[pc.Name] = true

			if idx, err := drivers.PortIndex(pc.Name); err != nil || idx >= PortsPerBoard {
				return errors.Wrapf(errcode.Configuration, "%s: port %s, ports must be named port0..port%d", role, pc.Name, PortsPerBoard-1)
			}

			dir, err := drivers.ParseDirection(pc.Direction)
			if err != nil {
				return errors.Wrapf(errcode.Configuration, "%s: port %s: %v", role, pc.Name, err)
			}
			if dir != role.Kind().Direction() {
				return errors.Wrapf(errcode.Configuration, "%s: port %s must be %s", role, pc.Name, role.Kind().Direction())
			}
			if pc.Width < 1 || pc.Width > 8 {
				return errors.Wrapf(errcode.Configuration, "%s: port %s width %d out of 1..8", role, pc.Name, pc.Width)
			}
		}

		if len(bc.AnalogChannels) > 0 && !role.Kind().HasAnalog() {
			return errors.Wrapf(errcode.Configuration, "%s: analog channels only allowed on the sensor board", role)
		}
		if role == Sensor {
			for _, want := range []int{0, 1} {
				if !containsInt(bc.AnalogChannels, want) {
					return errors.Wrapf(errcode.Configuration, "%s: analog channel %d required", role, want)
				}
			}
		}
	}

	if c.Mapping != nil {
		if err := c.Mapping.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// TelemetryInterval parses Telemetry.Interval.
func (c *Config) TelemetryInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Telemetry.Interval)
	if err != nil || d <= 0 {
		return 0, errors.Wrapf(errcode.Configuration, "telemetry interval %q invalid", c.Telemetry.Interval)
	}
	return d, nil
}

// PortSpecs converts the board's port list for NewBoard. The config must be validated.
func (bc *BoardConfig) PortSpecs() []PortSpec {
	specs := make([]PortSpec, 0, len(bc.Ports))
	for _, pc := range bc.Ports {
		dir, _ := drivers.ParseDirection(pc.Direction)
		specs = append(specs, PortSpec{Name: pc.Name, Direction: dir, Width: pc.Width})
	}
	return specs
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}
