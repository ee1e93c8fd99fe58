package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/Agrid-Dev/pvmocktat/internal/converter"
	"github.com/Agrid-Dev/pvmocktat/internal/environment"
	"github.com/Agrid-Dev/pvmocktat/internal/mppt"
	"github.com/Agrid-Dev/pvmocktat/internal/pv"
	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
)

// EnvPrefix prefixes every environment override, e.g. PVMOCKTAT_CONTROLLERS_HTTP_ADDR.
const EnvPrefix = "PVMOCKTAT_"

var ErrInvalidInterval = errors.New("interval must be positive")

type Config struct {
	DeviceID    string            `koanf:"device_id"`
	Controllers ControllersConfig `koanf:"controllers"`
	Simulation  SimulationConfig  `koanf:"simulation"`
	Environment EnvironmentConfig `koanf:"environment"`
	Weather     WeatherConfig     `koanf:"weather"`
	Recording   RecordingConfig   `koanf:"recording"`
}

type ControllersConfig struct {
	HTTP    HTTPConfig    `koanf:"http"`
	MQTT    MQTTConfig    `koanf:"mqtt"`
	Modbus  ModbusConfig  `koanf:"modbus"`
	Kafka   KafkaConfig   `koanf:"kafka"`
	Metrics MetricsConfig `koanf:"metrics"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type MQTTConfig struct {
	Enabled         bool          `koanf:"enabled"`
	BrokerURL       string        `koanf:"broker_url"`
	ClientID        string        `koanf:"client_id"`
	BaseTopic       string        `koanf:"base_topic"`
	QoS             byte          `koanf:"qos"`
	RetainSnapshot  bool          `koanf:"retain_snapshot"`
	PublishInterval time.Duration `koanf:"publish_interval"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
}

type ModbusConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	UnitID  byte   `koanf:"unit_id"`
}

type KafkaConfig struct {
	Enabled   bool     `koanf:"enabled"`
	Brokers   []string `koanf:"brokers"`
	Topic     string   `koanf:"topic"`
	Every     int      `koanf:"every"`
	QueueSize int      `koanf:"queue_size"`
}

// MetricsConfig exposes /metrics on the HTTP controller, and on Addr when set.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type SimulationConfig struct {
	TickInterval time.Duration     `koanf:"tick_interval"`
	Rows         int               `koanf:"rows"`
	Cols         int               `koanf:"cols"`
	Panel        string            `koanf:"panel"`
	PanelsFile   string            `koanf:"panels_file"`
	CustomPanel  CustomPanelConfig `koanf:"custom_panel"`
	Topology     string            `koanf:"topology"`  // "buck" | "boost" | "buckboost"
	Algorithm    string            `koanf:"algorithm"` // "pno" | "inccond"
}

// CustomPanelConfig is only used when Name is set. Coefficients are in %/°C.
type CustomPanelConfig struct {
	Name       string  `koanf:"name"`
	Pmax       float64 `koanf:"pmax"`
	Voc        float64 `koanf:"voc"`
	Isc        float64 `koanf:"isc"`
	Vmp        float64 `koanf:"vmp"`
	TempCoeffV float64 `koanf:"temp_coeff_v"`
	TempCoeffI float64 `koanf:"temp_coeff_i"`
}

type EnvironmentConfig struct {
	Irradiance  float64 `koanf:"irradiance"`
	Temperature float64 `koanf:"temperature"`
	// SunPosition in [0,100] overrides Irradiance when >= 0.
	SunPosition float64        `koanf:"sun_position"`
	DayCycle    DayCycleConfig `koanf:"day_cycle"`
}

type DayCycleConfig struct {
	Enabled          bool          `koanf:"enabled"`
	DayLength        time.Duration `koanf:"day_length"`
	DaylightFraction float64       `koanf:"daylight_fraction"`
	NightTemperature float64       `koanf:"night_temperature"`
	NoonTemperature  float64       `koanf:"noon_temperature"`
	UpdateInterval   time.Duration `koanf:"update_interval"`
}

type WeatherConfig struct {
	Enabled bool `koanf:"enabled"`
	// Location is a place name resolved to coordinates at startup. It overrides
	// Latitude and Longitude when it resolves.
	Location   string        `koanf:"location"`
	Latitude   float64       `koanf:"latitude"`
	Longitude  float64       `koanf:"longitude"`
	Interval   time.Duration `koanf:"interval"`
	BaseURL    string        `koanf:"base_url"`
	GeocodeURL string        `koanf:"geocode_url"`
}

type RecordingConfig struct {
	ReportDir   string `koanf:"report_dir"`
	ArchivePath string `koanf:"archive_path"`
	Autostart   bool   `koanf:"autostart"`
}

func defaultConfig() Config {
	return Config{
		DeviceID: "default",
		Controllers: ControllersConfig{
			HTTP:    HTTPConfig{Enabled: true, Addr: ":8080"},
			MQTT:    MQTTConfig{BrokerURL: "tcp://localhost:1883", PublishInterval: time.Second},
			Modbus:  ModbusConfig{Addr: "127.0.0.1:1502", UnitID: 1},
			Kafka:   KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "pvmocktat.ticks", Every: 10, QueueSize: 256},
			Metrics: MetricsConfig{Enabled: true},
		},
		Simulation: SimulationConfig{
			TickInterval: 100 * time.Millisecond,
			Rows:         2,
			Cols:         2,
			Panel:        pv.DefaultPanelName,
			Topology:     "buck",
			Algorithm:    "pno",
		},
		Environment: EnvironmentConfig{
			Irradiance:  pv.STCIrradiance,
			Temperature: pv.STCTemperature,
			SunPosition: -1,
			DayCycle: DayCycleConfig{
				DayLength:        10 * time.Minute,
				DaylightFraction: 0.5,
				NightTemperature: 10,
				NoonTemperature:  30,
				UpdateInterval:   time.Second,
			},
		},
		Weather: WeatherConfig{
			Latitude:  48.8566,
			Longitude: 2.3522,
			Interval:  10 * time.Minute,
		},
		Recording: RecordingConfig{ReportDir: "reports"},
	}
}

// LoadConfig layers defaults, the optional file at path and PVMOCKTAT_* variables.
// A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			parser, err := parserFor(path)
			if err != nil {
				return Config{}, err
			}
			if err := k.Load(file.Provider(path), parser); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = envKeyTransform(strings.TrimPrefix(key, EnvPrefix))
			if key == "controllers.kafka.brokers" {
				return key, strings.Split(value, ",")
			}
			return key, value
		},
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validateIntervals(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validateIntervals rejects durations that would drive a ticker.
func (c Config) validateIntervals() error {
	for _, d := range []struct {
		key string
		v   time.Duration
	}{
		{"simulation.tick_interval", c.Simulation.TickInterval},
		{"weather.interval", c.Weather.Interval},
		{"environment.day_cycle.update_interval", c.Environment.DayCycle.UpdateInterval},
	} {
		if d.v <= 0 {
			return fmt.Errorf("%w: %s = %v", ErrInvalidInterval, d.key, d.v)
		}
	}
	return nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config extension %q", ext)
	}
}

// Sections whose keys contain underscores, longest first.
var envSections = []struct{ env, path string }{
	{"environment_day_cycle_", "environment.day_cycle."},
	{"simulation_custom_panel_", "simulation.custom_panel."},
	{"simulation_", "simulation."},
	{"environment_", "environment."},
	{"weather_", "weather."},
	{"recording_", "recording."},
}

// envKeyTransform maps an unprefixed variable name onto a config path:
// CONTROLLERS_HTTP_ADDR -> controllers.http.addr, WEATHER_BASE_URL -> weather.base_url.
// Unknown names are lowercased and passed through.
func envKeyTransform(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(s, "controllers_"); ok {
		name, field, found := strings.Cut(rest, "_")
		if !found {
			return s
		}
		return "controllers." + name + "." + field
	}
	for _, sec := range envSections {
		if rest, ok := strings.CutPrefix(s, sec.env); ok && rest != "" {
			return sec.path + rest
		}
	}
	return s
}

// Catalog returns the built-in panels plus those of PanelsFile, and the custom panel if any.
func (c Config) Catalog() (*pv.Catalog, error) {
	catalog := pv.DefaultCatalog()
	if c.Simulation.PanelsFile != "" {
		var err error
		if catalog, err = pv.LoadCatalog(c.Simulation.PanelsFile); err != nil {
			return nil, err
		}
	}
	if cp := c.Simulation.CustomPanel; cp.Name != "" {
		p, err := pv.NewCustomPanel(pv.PanelInput{
			Name:       cp.Name,
			Pmax:       &cp.Pmax,
			Voc:        &cp.Voc,
			Isc:        &cp.Isc,
			Vmp:        &cp.Vmp,
			TempCoeffV: &cp.TempCoeffV,
			TempCoeffI: &cp.TempCoeffI,
		})
		if err != nil {
			return nil, fmt.Errorf("custom panel: %w", err)
		}
		if err := catalog.Add(p); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// SimulatorConfig resolves names into a validated simulator.Config. A configured custom
// panel takes precedence over Panel.
func (c Config) SimulatorConfig(catalog *pv.Catalog) (simulator.Config, error) {
	name := c.Simulation.Panel
	if c.Simulation.CustomPanel.Name != "" {
		name = strings.TrimSpace(c.Simulation.CustomPanel.Name) + " (Custom)"
	}
	panel, err := catalog.Lookup(name)
	if err != nil {
		return simulator.Config{}, err
	}
	topo, err := converter.ParseTopology(c.Simulation.Topology)
	if err != nil {
		return simulator.Config{}, err
	}
	algo, err := mppt.ParseAlgorithm(c.Simulation.Algorithm)
	if err != nil {
		return simulator.Config{}, err
	}
	arr := pv.ArrayConfig{Rows: c.Simulation.Rows, Cols: c.Simulation.Cols}
	if err := arr.Validate(); err != nil {
		return simulator.Config{}, err
	}
	cfg := simulator.Config{Array: arr, Panel: panel, Topology: topo, Algorithm: algo}
	return cfg, cfg.Validate()
}

// InitialEnvironment is the starting environment; a sun position replaces the irradiance.
func (c Config) InitialEnvironment() (pv.Environment, error) {
	env := pv.Environment{Irradiance: c.Environment.Irradiance, Temperature: c.Environment.Temperature}
	if c.Environment.SunPosition >= 0 {
		g, err := environment.SunIrradiance(c.Environment.SunPosition)
		if err != nil {
			return pv.Environment{}, err
		}
		env.Irradiance = g
	}
	return env, env.Validate()
}

func (c Config) DayCycleParams() environment.DayCycleParams {
	d := c.Environment.DayCycle
	return environment.DayCycleParams{
		DayLength:        d.DayLength,
		DaylightFraction: d.DaylightFraction,
		NightTemperature: d.NightTemperature,
		NoonTemperature:  d.NoonTemperature,
	}
}
