package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// BasePath is the root under which logs/acr/<session> directories are created.
	BasePath   string           `yaml:"base_path" toml:"base_path"`
	GPS        GPSConfig        `yaml:"gps" toml:"gps"`
	Smoothing  SmoothingConfig  `yaml:"smoothing" toml:"smoothing"`
	Trajectory TrajectoryConfig `yaml:"trajectory" toml:"trajectory"`
	Input      InputConfig      `yaml:"input" toml:"input"`
	LED        LEDConfig        `yaml:"led" toml:"led"`
	Log        LogConfig        `yaml:"log" toml:"log"`
}

type GPSConfig struct {
	// Device is a serial device, a raw file to replay, "capture:<path>" for a
	// timed capture log, "gpsd:<host:port>", "sim", or empty to auto-detect
	// /dev/ttyACM* and /dev/ttyUSB*.
	Device      string        `yaml:"device" toml:"device"`
	Baud        int           `yaml:"baud" toml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	// MaxFailures is the number of consecutive unreadable lines tolerated
	// before the loop reports GPS_READ.
	MaxFailures  int           `yaml:"max_failures" toml:"max_failures"`
	StartupDelay time.Duration `yaml:"startup_delay" toml:"startup_delay"`
	Sim          SimConfig     `yaml:"sim" toml:"sim"`

	// Capture, when set, records every framed line to this file in the
	// capture log format.
	Capture     string  `yaml:"capture" toml:"capture"`
	ReplaySpeed float64 `yaml:"replay_speed" toml:"replay_speed"`
	ReplayLoop  bool    `yaml:"replay_loop" toml:"replay_loop"`
}

type SimConfig struct {
	CenterLatDeg float64       `yaml:"center_lat_deg" toml:"center_lat_deg"`
	CenterLonDeg float64       `yaml:"center_lon_deg" toml:"center_lon_deg"`
	AltM         float64       `yaml:"alt_m" toml:"alt_m"`
	RadiusM      float64       `yaml:"radius_m" toml:"radius_m"`
	Period       time.Duration `yaml:"period" toml:"period"`
	Rate         time.Duration `yaml:"rate" toml:"rate"`
}

type SmoothingConfig struct {
	Enable bool `yaml:"enable" toml:"enable"`
	// Weight of the prior position in [0,1). Unset means 0.9; an explicit 0
	// makes every fix replace the prior one.
	Weight *float64 `yaml:"weight" toml:"weight"`
}

// BlendWeight is Weight with its default applied.
func (c SmoothingConfig) BlendWeight() float64 {
	if c.Weight == nil {
		return 0.9
	}
	return *c.Weight
}

type TrajectoryConfig struct {
	Downsample int `yaml:"downsample" toml:"downsample"`
}

type InputConfig struct {
	// Backend is gpiod, keyboard or none.
	Backend  string        `yaml:"backend" toml:"backend"`
	Chip     string        `yaml:"chip" toml:"chip"`
	Debounce time.Duration `yaml:"debounce" toml:"debounce"`
	Repress  time.Duration `yaml:"repress" toml:"repress"`
	// ActiveLow defaults to true (buttons to ground with pull-ups).
	ActiveLow *bool     `yaml:"active_low" toml:"active_low"`
	Pins      InputPins `yaml:"pins" toml:"pins"`
}

// InputPins are BCM GPIO numbers.
type InputPins struct {
	Mode   int `yaml:"mode" toml:"mode"`
	Yellow int `yaml:"yellow" toml:"yellow"`
	Blue   int `yaml:"blue" toml:"blue"`
	Orange int `yaml:"orange" toml:"orange"`
}

type LEDConfig struct {
	Backend     string        `yaml:"backend" toml:"backend"`
	Chip        string        `yaml:"chip" toml:"chip"`
	Period      time.Duration `yaml:"period" toml:"period"`
	FaultBudget time.Duration `yaml:"fault_budget" toml:"fault_budget"`
	Pins        LEDPins       `yaml:"pins" toml:"pins"`
}

type LEDPins struct {
	Green int `yaml:"green" toml:"green"`
	Red   int `yaml:"red" toml:"red"`
}

type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	// File enables a rotating log file in addition to stderr.
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
}

func (c InputConfig) IsActiveLow() bool {
	return c.ActiveLow == nil || *c.ActiveLow
}

// Load reads a YAML file, or TOML when the extension is .toml.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(b)
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg.finish()
}

// ParseTOML is Parse for the TOML form of the same keys.
func ParseTOML(b []byte) (Config, error) {
	var cfg Config
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg.finish()
}

func (cfg Config) finish() (Config, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.BasePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.BasePath = home
		} else {
			cfg.BasePath = "."
		}
	}

	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = 230400
	}
	if cfg.GPS.ReadTimeout <= 0 {
		cfg.GPS.ReadTimeout = 1 * time.Second
	}
	if cfg.GPS.MaxFailures == 0 {
		cfg.GPS.MaxFailures = 10
	}
	if cfg.GPS.StartupDelay == 0 {
		cfg.GPS.StartupDelay = 1 * time.Second
	}
	if cfg.GPS.ReplaySpeed == 0 {
		cfg.GPS.ReplaySpeed = 1
	}

	if cfg.Trajectory.Downsample == 0 {
		cfg.Trajectory.Downsample = 10
	}

	if cfg.Input.Backend == "" {
		cfg.Input.Backend = "gpiod"
	}
	if cfg.Input.Debounce == 0 {
		cfg.Input.Debounce = 10 * time.Millisecond
	}
	if cfg.Input.Repress == 0 {
		cfg.Input.Repress = 1 * time.Second
	}
	// Default wiring: yellow 22, blue 23, orange 24, mode 27.
	if cfg.Input.Pins == (InputPins{}) {
		cfg.Input.Pins = InputPins{Mode: 27, Yellow: 22, Blue: 23, Orange: 24}
	}

	if cfg.LED.Backend == "" {
		cfg.LED.Backend = cfg.Input.Backend
	}
	if cfg.LED.Period == 0 {
		cfg.LED.Period = 1 * time.Millisecond
	}
	if cfg.LED.FaultBudget == 0 {
		cfg.LED.FaultBudget = 2 * time.Second
	}
	if cfg.LED.Pins == (LEDPins{}) {
		cfg.LED.Pins = LEDPins{Green: 5, Red: 6}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}
}

func (cfg Config) validate() error {
	if strings.TrimSpace(cfg.BasePath) == "" {
		return fmt.Errorf("base_path is required")
	}
	if cfg.GPS.Baud < 0 {
		return fmt.Errorf("gps.baud must be > 0")
	}
	if cfg.GPS.MaxFailures < 0 {
		return fmt.Errorf("gps.max_failures must be >= 0")
	}
	if cfg.GPS.StartupDelay < 0 {
		return fmt.Errorf("gps.startup_delay must be >= 0")
	}
	if cfg.GPS.ReplaySpeed < 0 {
		return fmt.Errorf("gps.replay_speed must be > 0")
	}
	if w := cfg.Smoothing.BlendWeight(); w < 0 || w >= 1 {
		return fmt.Errorf("smoothing.weight must be in [0,1)")
	}
	if cfg.Trajectory.Downsample < 0 {
		return fmt.Errorf("trajectory.downsample must be > 0")
	}

	switch cfg.Input.Backend {
	case "gpiod", "keyboard", "none":
	default:
		return fmt.Errorf("input.backend must be one of gpiod, keyboard, none")
	}
	switch cfg.LED.Backend {
	case "gpiod", "keyboard", "none":
	default:
		return fmt.Errorf("led.backend must be one of gpiod, keyboard, none")
	}
	if cfg.Input.Debounce < 0 {
		return fmt.Errorf("input.debounce must be >= 0")
	}
	if cfg.Input.Repress < 0 {
		return fmt.Errorf("input.repress must be >= 0")
	}

	if cfg.Input.Backend == "gpiod" {
		pins := map[string]int{
			"input.pins.mode":   cfg.Input.Pins.Mode,
			"input.pins.yellow": cfg.Input.Pins.Yellow,
			"input.pins.blue":   cfg.Input.Pins.Blue,
			"input.pins.orange": cfg.Input.Pins.Orange,
		}
		if cfg.LED.Backend == "gpiod" {
			pins["led.pins.green"] = cfg.LED.Pins.Green
			pins["led.pins.red"] = cfg.LED.Pins.Red
		}
		seen := map[int]string{}
		for _, key := range sortedKeys(pins) {
			p := pins[key]
			if p <= 0 {
				return fmt.Errorf("%s is required", key)
			}
			if other, ok := seen[p]; ok {
				return fmt.Errorf("%s and %s both use gpio %d", other, key, p)
			}
			seen[p] = key
		}
	}

	switch cfg.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of trace, debug, info, warn, error")
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
