package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/liveroom/internal/core"
	"github.com/dkeye/liveroom/internal/logging"
	"github.com/dkeye/liveroom/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "LIVEROOM"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Media     MediaConfig     `mapstructure:"media"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Store     storage.Config  `mapstructure:"store"`
	Log       logging.Config  `mapstructure:"log"`
}

type ServerConfig struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	// Secret signs the guest session cookie.
	Secret         string        `mapstructure:"secret"`
	IdentityHeader string        `mapstructure:"identity_header"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

type BroadcastConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	SinkBuffer        int           `mapstructure:"sink_buffer"`
}

type MediaConfig struct {
	Workers    int              `mapstructure:"workers"`
	ICEServers []core.ICEServer `mapstructure:"ice_servers"`
	UDPPortMin uint16           `mapstructure:"udp_port_min"`
	UDPPortMax uint16           `mapstructure:"udp_port_max"`
	NAT1To1IPs []string         `mapstructure:"nat_1to1_ips"`
}

type LimitsConfig struct {
	MaxRooms             int           `mapstructure:"max_rooms"`
	MaxParticipants      int           `mapstructure:"max_participants"`
	MaxTransportsPerRoom int           `mapstructure:"max_transports_per_room"`
	JoinRate             int           `mapstructure:"join_rate"`
	JoinInterval         time.Duration `mapstructure:"join_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static_path", "./web")
	v.SetDefault("server.read_limit", 32768)
	v.SetDefault("server.ping_period", "54s")
	v.SetDefault("server.secret", "")
	v.SetDefault("server.identity_header", "X-User-ID")
	v.SetDefault("server.shutdown_grace", "5s")

	v.SetDefault("broadcast.heartbeat_interval", "30s")
	v.SetDefault("broadcast.sink_buffer", 64)

	v.SetDefault("media.workers", 2)
	v.SetDefault("media.ice_servers", []map[string]any{{"urls": []string{"stun:stun.l.google.com:19302"}}})
	v.SetDefault("media.udp_port_min", 0)
	v.SetDefault("media.udp_port_max", 0)
	v.SetDefault("media.nat_1to1_ips", []string{})

	v.SetDefault("limits.max_rooms", 1000)
	v.SetDefault("limits.max_participants", 500)
	v.SetDefault("limits.max_transports_per_room", 1000)
	v.SetDefault("limits.join_rate", 10)
	v.SetDefault("limits.join_interval", "10s")

	v.SetDefault("store.driver", storage.DriverMemory)
	v.SetDefault("store.history_limit", storage.DefaultHistoryLimit)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.username", "")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "liveroom:events:")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// Load reads config/config.<CONFIG_ENV>.yaml (CONFIG_ENV defaults to dev).
// A missing file falls back to defaults; LIVEROOM_* variables override both.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Server.Mode).Int("port", cfg.Server.Port).Int("workers", cfg.Media.Workers).Str("store", cfg.Store.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Media.Workers <= 0 {
		errs = append(errs, fmt.Errorf("media.workers must be positive, got %d", c.Media.Workers))
	}
	if c.Media.UDPPortMax != 0 && c.Media.UDPPortMin > c.Media.UDPPortMax {
		errs = append(errs, fmt.Errorf("media.udp_port_min %d exceeds udp_port_max %d", c.Media.UDPPortMin, c.Media.UDPPortMax))
	}
	switch strings.ToLower(c.Store.Driver) {
	case storage.DriverMemory, storage.DriverRedis, storage.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is unknown", c.Store.Driver))
	}
	if strings.EqualFold(c.Store.Driver, storage.DriverPostgres) && c.Store.Postgres.DSN == "" {
		errs = append(errs, errors.New("store.postgres.dsn is required for the postgres driver"))
	}
	if c.Limits.JoinRate < 0 || c.Limits.JoinInterval < 0 {
		errs = append(errs, errors.New("limits.join_rate and limits.join_interval must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
