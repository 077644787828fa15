package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/treadlink/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultDeviceFilter      = "LifeSpan"
	defaultScanTimeout       = 30  // seconds
	defaultConnectTimeout    = 10  // seconds
	defaultPollInterval      = 300 // milliseconds
	defaultIdleWindow        = 300 // seconds
	defaultIdleCheck         = 30  // seconds
	defaultReconnectAttempts = 5
	defaultSilentThreshold   = 3
	defaultDatabase          = "/var/lib/treadlink/treadlink.db"
	defaultListen            = ":8093"
	defaultSinkKind          = "none"
)

type Config struct {
	DeviceFilter      string `mapstructure:"device_filter"`
	ScanTimeout       int    `mapstructure:"scan_timeout"`
	ConnectTimeout    int    `mapstructure:"connect_timeout"`
	PollInterval      int    `mapstructure:"poll_interval"`
	IdleWindow        int    `mapstructure:"idle_window"`
	IdleCheckInterval int    `mapstructure:"idle_check_interval"`
	ReconnectAttempts int    `mapstructure:"reconnect_attempts"`
	SilentThreshold   int    `mapstructure:"silent_threshold"`
	Database          string `mapstructure:"database"`
	Listen            string `mapstructure:"listen"`
	SinkKind          string `mapstructure:"sink"`
	SinkURL           string `mapstructure:"sink_url"`
	MQTTBroker        string `mapstructure:"mqtt_broker"`
	MQTTTopic         string `mapstructure:"mqtt_topic"`
	LogLevel          string `mapstructure:"log_level"`
	Debug             bool   `mapstructure:"debug"`
	Verbose           bool   `mapstructure:"verbose"`
}

func Load() (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("treadlink", pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.String("device-filter", defaultDeviceFilter, "Device name prefix to match during discovery")
	flags.Int("scan-timeout", defaultScanTimeout, "Discovery budget in seconds")
	flags.Int("poll-interval", defaultPollInterval, "Delay between metric queries in milliseconds")
	flags.Int("idle-window", defaultIdleWindow, "Seconds without forward motion before auto-pause")
	flags.String("database", defaultDatabase, "Path to the state database")
	flags.String("listen", defaultListen, "HTTP listen address")
	flags.String("sink", defaultSinkKind, "Session sink: http, mqtt or none")
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warning or error")
	flags.Bool("debug", false, "Enable debug logging")
	flags.Bool("verbose", false, "Enable verbose logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindings := map[string]string{
		"device_filter": "device-filter",
		"scan_timeout":  "scan-timeout",
		"poll_interval": "poll-interval",
		"idle_window":   "idle-window",
		"database":      "database",
		"listen":        "listen",
		"sink":          "sink",
		"log_level":     "log-level",
		"debug":         "debug",
		"verbose":       "verbose",
	}
	for key, name := range bindings {
		flag := flags.Lookup(name)
		if flag.Changed {
			v.Set(key, flag.Value.String())
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device_filter", defaultDeviceFilter)
	v.SetDefault("scan_timeout", defaultScanTimeout)
	v.SetDefault("connect_timeout", defaultConnectTimeout)
	v.SetDefault("poll_interval", defaultPollInterval)
	v.SetDefault("idle_window", defaultIdleWindow)
	v.SetDefault("idle_check_interval", defaultIdleCheck)
	v.SetDefault("reconnect_attempts", defaultReconnectAttempts)
	v.SetDefault("silent_threshold", defaultSilentThreshold)
	v.SetDefault("database", defaultDatabase)
	v.SetDefault("listen", defaultListen)
	v.SetDefault("sink", defaultSinkKind)
	v.SetDefault("log_level", DefaultLogLevel)
}

func readConfigFile(v *viper.Viper) error {
	errFactory := errors.New()

	v.SetConfigType("toml")
	v.SetEnvPrefix("TREADLINK")
	v.AutomaticEnv()

	if path := os.Getenv("TREADLINK_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("treadlink")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warning", "error":
	default:
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.ScanTimeout <= 0 || c.ConnectTimeout <= 0 || c.PollInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "timeouts and intervals must be positive")
	}

	if c.IdleWindow <= 0 || c.IdleCheckInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "idle window and check interval must be positive")
	}

	if c.ReconnectAttempts <= 0 || c.SilentThreshold <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "reconnect attempts and silent threshold must be positive")
	}

	switch c.SinkKind {
	case "none":
	case "http":
		if c.SinkURL == "" {
			return errFactory.WithData(errors.ErrMissingConfig, "sink_url is required for the http sink")
		}
	case "mqtt":
		if c.MQTTBroker == "" || c.MQTTTopic == "" {
			return errFactory.WithData(errors.ErrMissingConfig, "mqtt_broker and mqtt_topic are required for the mqtt sink")
		}
	default:
		return errFactory.WithData(errors.ErrInvalidConfig, "unknown sink kind: "+c.SinkKind)
	}

	return nil
}
