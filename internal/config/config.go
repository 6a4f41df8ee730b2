package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         LogConfig         `mapstructure:"log"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Settings    SettingsConfig    `mapstructure:"settings"`
	Negotiation NegotiationConfig `mapstructure:"negotiation"`
	Media       MediaConfig       `mapstructure:"media"`
	Profiles    []ProfileConfig   `mapstructure:"profiles"`
	Users       UsersConfig       `mapstructure:"users"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type UsersConfig struct {
	DefaultAdminPassword string `mapstructure:"default_admin_password"`
}

// SettingsConfig holds process-wide call settings shared by every profile.
type SettingsConfig struct {
	Debug bool `mapstructure:"debug"`
	// Comma separated codec names in preference order, e.g. "PCMU,PCMA".
	CodecPrefs    string `mapstructure:"codec_prefs"`
	DTMFDuration  int    `mapstructure:"dtmf_duration"`
	DTMFQueueSize int    `mapstructure:"dtmf_queue_size"`
}

type NegotiationConfig struct {
	Tick          time.Duration `mapstructure:"tick"`
	OutboundDelay time.Duration `mapstructure:"outbound_delay"`
	InboundDelay  time.Duration `mapstructure:"inbound_delay"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type MediaConfig struct {
	RTPPortMin   int           `mapstructure:"rtp_port_min"`
	RTPPortMax   int           `mapstructure:"rtp_port_max"`
	STUNTimeout  time.Duration `mapstructure:"stun_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	ICEKeepalive time.Duration `mapstructure:"ice_keepalive"`
}

// ProfileConfig is one signaling account. Extip and LANAddr are optional.
type ProfileConfig struct {
	Name              string        `mapstructure:"name"`
	Login             string        `mapstructure:"login"`
	Password          string        `mapstructure:"password"`
	Message           string        `mapstructure:"message"`
	Dialplan          string        `mapstructure:"dialplan"`
	IP                string        `mapstructure:"ip"`
	ExtIP             string        `mapstructure:"extip"`
	LANAddr           string        `mapstructure:"lanaddr"`
	Exten             string        `mapstructure:"exten"`
	Server            string        `mapstructure:"server"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

var ErrIncompleteProfile = errors.New("incomplete profile")

// Validate reports the first required field that is missing.
func (p *ProfileConfig) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"name", p.Name},
		{"login", p.Login},
		{"password", p.Password},
		{"message", p.Message},
		{"dialplan", p.Dialplan},
		{"ip", p.IP},
		{"exten", p.Exten},
		{"server", p.Server},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: missing %s", ErrIncompleteProfile, r.field)
		}
	}
	return nil
}

// CodecPreferences splits the configured preference string.
func (s SettingsConfig) CodecPreferences() []string {
	var prefs []string
	for _, name := range strings.Split(s.CodecPrefs, ",") {
		if name = strings.TrimSpace(name); name != "" {
			prefs = append(prefs, name)
		}
	}
	return prefs
}

var AppConfig Config

func LoadConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Config file not found, using defaults. Error: %v", err)
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	ApplyDefaults(&AppConfig)

	log.Println("Configuration loaded successfully")
}

func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "CHANGE_ME_IN_PROD"
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}

	if cfg.Settings.DTMFDuration <= 0 {
		cfg.Settings.DTMFDuration = 800
	}
	if cfg.Settings.DTMFQueueSize <= 0 {
		cfg.Settings.DTMFQueueSize = 64
	}

	if cfg.Negotiation.Tick <= 0 {
		cfg.Negotiation.Tick = 10 * time.Millisecond
	}
	if cfg.Negotiation.OutboundDelay <= 0 {
		cfg.Negotiation.OutboundDelay = 5 * time.Second
	}
	if cfg.Negotiation.InboundDelay <= 0 {
		cfg.Negotiation.InboundDelay = 20 * time.Second
	}
	if cfg.Negotiation.RetryInterval <= 0 {
		cfg.Negotiation.RetryInterval = 10 * time.Second
	}
	if cfg.Negotiation.Timeout <= 0 {
		cfg.Negotiation.Timeout = 60 * time.Second
	}

	if cfg.Media.RTPPortMin <= 0 {
		cfg.Media.RTPPortMin = 16384
	}
	if cfg.Media.RTPPortMax <= cfg.Media.RTPPortMin {
		cfg.Media.RTPPortMax = cfg.Media.RTPPortMin + 16384
	}
	if cfg.Media.STUNTimeout <= 0 {
		cfg.Media.STUNTimeout = 3 * time.Second
	}
	if cfg.Media.ReadTimeout <= 0 {
		cfg.Media.ReadTimeout = 20 * time.Millisecond
	}
	if cfg.Media.ICEKeepalive <= 0 {
		cfg.Media.ICEKeepalive = 5 * time.Second
	}

	for i := range cfg.Profiles {
		p := &cfg.Profiles[i]
		if p.Dialplan == "" {
			p.Dialplan = "default"
		}
		if p.ReconnectInterval <= 0 {
			p.ReconnectInterval = 5 * time.Second
		}
	}
}
