// Package config loads the settings shared by every dust patrol binary.
//
// Precedence, lowest first: built-in defaults, an optional YAML file, then
// DUST_* environment variables (DUST_CONTROL_PORT, DUST_STORAGE_INFLUX_URL).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "DUST"

type Control struct {
	BindAddress      string        `mapstructure:"bindAddress"`
	Port             int           `mapstructure:"port"`
	HandshakeTimeout time.Duration `mapstructure:"handshakeTimeout"`
	IdleTimeout      time.Duration `mapstructure:"idleTimeout"`
	MaxLineBytes     int           `mapstructure:"maxLineBytes"`
	MaxConnections   int           `mapstructure:"maxConnections"`
	HTTPAddr         string        `mapstructure:"httpAddr"`
	GRPCAddr         string        `mapstructure:"grpcAddr"`
}

type Channel struct {
	Address         string        `mapstructure:"address"`
	DialTimeout     time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	BulkReadTimeout time.Duration `mapstructure:"bulkReadTimeout"`
}

type Orchestrator struct {
	DustThreshold            float64       `mapstructure:"dustThreshold"`
	MaxRetries               int           `mapstructure:"maxRetries"`
	MeasurementSettleSeconds float64       `mapstructure:"measurementSettleSeconds"`
	MoveSettleSeconds        float64       `mapstructure:"moveSettleSeconds"`
	PointSequence            []string      `mapstructure:"pointSequence"`
	Waypoint                 string        `mapstructure:"waypoint"`
	ReadyInterval            time.Duration `mapstructure:"readyInterval"`
	ReadyTimeout             time.Duration `mapstructure:"readyTimeout"` // 0 waits until cancelled
	EmbedControlServer       bool          `mapstructure:"embedControlServer"`
	HTTPAddr                 string        `mapstructure:"httpAddr"`
	GRPCAddr                 string        `mapstructure:"grpcAddr"`
}

func (o Orchestrator) MeasurementSettle() time.Duration {
	return time.Duration(o.MeasurementSettleSeconds * float64(time.Second))
}

func (o Orchestrator) MoveSettle() time.Duration {
	return time.Duration(o.MoveSettleSeconds * float64(time.Second))
}

type Gateway struct {
	Address         string        `mapstructure:"address"`
	SlaveID         int           `mapstructure:"slaveID"`
	Timeout         time.Duration `mapstructure:"timeout"`
	StartMode       int           `mapstructure:"startMode"`
	StopMode        int           `mapstructure:"stopMode"`
	BreakerFailures int           `mapstructure:"breakerFailures"`
	BreakerOpenFor  time.Duration `mapstructure:"breakerOpenFor"`
}

type Influx struct {
	URL         string `mapstructure:"url"`
	Token       string `mapstructure:"token"`
	Org         string `mapstructure:"org"`
	Bucket      string `mapstructure:"bucket"`
	Measurement string `mapstructure:"measurement"`
}

// Enabled reports whether enough is set to open a write API.
func (i Influx) Enabled() bool {
	return i.URL != "" && i.Token != "" && i.Org != "" && i.Bucket != ""
}

type Storage struct {
	SQLitePath string `mapstructure:"sqlitePath"`
	Influx     Influx `mapstructure:"influx"`
	HTTPAddr   string `mapstructure:"httpAddr"`
}

type MQTT struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"clientID"`
	TopicPrefix string `mapstructure:"topicPrefix"`
}

type Log struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups"`
}

type Simulator struct {
	Address   string  `mapstructure:"address"`
	Baseline  float64 `mapstructure:"baseline"`
	Amplitude float64 `mapstructure:"amplitude"`
}

type Dashboard struct {
	HTTPAddr        string        `mapstructure:"httpAddr"`
	OrchestratorURL string        `mapstructure:"orchestratorURL"`
	PersistenceURL  string        `mapstructure:"persistenceURL"`
	ControlURL      string        `mapstructure:"controlURL"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BreakerFailures int           `mapstructure:"breakerFailures"`
	BreakerOpenFor  time.Duration `mapstructure:"breakerOpenFor"`
}

type Aggregator struct {
	Interval time.Duration `mapstructure:"interval"`
}

type Config struct {
	Control      Control      `mapstructure:"control"`
	Channel      Channel      `mapstructure:"channel"`
	Orchestrator Orchestrator `mapstructure:"orchestrator"`
	Gateway      Gateway      `mapstructure:"gateway"`
	Storage      Storage      `mapstructure:"storage"`
	MQTT         MQTT         `mapstructure:"mqtt"`
	Log          Log          `mapstructure:"log"`
	Simulator    Simulator    `mapstructure:"simulator"`
	Dashboard    Dashboard    `mapstructure:"dashboard"`
	Aggregator   Aggregator   `mapstructure:"aggregator"`
}

var defaults = map[string]any{
	"control.bindAddress":      "0.0.0.0",
	"control.port":             12345,
	"control.handshakeTimeout": "10s",
	"control.idleTimeout":      "0s",
	"control.maxLineBytes":     64 * 1024,
	"control.maxConnections":   0,
	"control.httpAddr":         ":9102",
	"control.grpcAddr":         ":9103",

	"channel.address":         "127.0.0.1:12345",
	"channel.dialTimeout":     "5s",
	"channel.readTimeout":     "10s",
	"channel.bulkReadTimeout": "10s",

	"orchestrator.dustThreshold":            50.0,
	"orchestrator.maxRetries":               3,
	"orchestrator.measurementSettleSeconds": 60.0,
	"orchestrator.moveSettleSeconds":        2.0,
	"orchestrator.pointSequence":            []string{"001", "002", "003"},
	"orchestrator.waypoint":                 "Peanut",
	"orchestrator.readyInterval":            "2s",
	"orchestrator.readyTimeout":             "0s",
	"orchestrator.embedControlServer":       false,
	"orchestrator.httpAddr":                 ":9100",
	"orchestrator.grpcAddr":                 ":9104",

	"gateway.address":         "127.0.0.1:502",
	"gateway.slaveID":         1,
	"gateway.timeout":         "3s",
	"gateway.startMode":       11,
	"gateway.stopMode":        12,
	"gateway.breakerFailures": 3,
	"gateway.breakerOpenFor":  "30s",

	"storage.sqlitePath":         "dust.db",
	"storage.influx.url":         "",
	"storage.influx.token":       "",
	"storage.influx.org":         "",
	"storage.influx.bucket":      "",
	"storage.influx.measurement": "dust_level",
	"storage.httpAddr":           ":9101",

	"mqtt.enabled":     false,
	"mqtt.host":        "localhost",
	"mqtt.port":        1883,
	"mqtt.user":        "",
	"mqtt.password":    "",
	"mqtt.clientID":    "dust-patrol",
	"mqtt.topicPrefix": "dust",

	"log.file":       "",
	"log.maxSizeMB":  50,
	"log.maxBackups": 3,

	"simulator.address":   "127.0.0.1:5020",
	"simulator.baseline":  40.0,
	"simulator.amplitude": 25.0,

	"dashboard.httpAddr":        ":9105",
	"dashboard.orchestratorURL": "http://localhost:9100",
	"dashboard.persistenceURL":  "http://localhost:9101",
	"dashboard.controlURL":      "http://localhost:9102",
	"dashboard.timeout":         "3s",
	"dashboard.breakerFailures": 3,
	"dashboard.breakerOpenFor":  "10s",

	"aggregator.interval": "1m",
}

// New returns a viper instance carrying the defaults and env binding, ready for
// flag binding before Load.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (if non-empty) into v and decodes the result.
// AddConfigFlag registers --config on fs. Every binary takes the same flag.
func AddConfigFlag(fs *pflag.FlagSet, path *string) {
	fs.StringVar(path, "config", "", "path to a YAML config file (or DUST_CONFIG)")
}

func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = New()
	}
	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Orchestrator.PointSequence = cleanPoints(cfg.Orchestrator.PointSequence)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Control.Port < 0 || c.Control.Port > 65535 {
		errs = append(errs, fmt.Errorf("control.port %d out of range", c.Control.Port))
	}
	if c.Orchestrator.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.maxRetries must be positive, got %d", c.Orchestrator.MaxRetries))
	}
	if len(c.Orchestrator.PointSequence) == 0 {
		errs = append(errs, errors.New("orchestrator.pointSequence is empty"))
	}
	if c.Orchestrator.MeasurementSettleSeconds < 0 || c.Orchestrator.MoveSettleSeconds < 0 {
		errs = append(errs, errors.New("orchestrator settle periods must not be negative"))
	}
	if c.Orchestrator.ReadyInterval <= 0 {
		errs = append(errs, errors.New("orchestrator.readyInterval must be positive"))
	}
	if c.MQTT.Enabled && (c.MQTT.Port <= 0 || c.MQTT.Port > 65535) {
		errs = append(errs, fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port))
	}
	return errors.Join(errs...)
}

// cleanPoints trims ids and drops empty entries, which a trailing comma in
// DUST_ORCHESTRATOR_POINTSEQUENCE would otherwise produce.
func cleanPoints(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
