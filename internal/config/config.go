package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete server configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Lobby       LobbyConfig       `mapstructure:"lobby"`
	Game        GameConfig        `mapstructure:"game"`
	Auth        AuthConfig        `mapstructure:"auth"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Replay      ReplayConfig      `mapstructure:"replay"`
	Decks       DecksConfig       `mapstructure:"decks"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	NodeID          string          `mapstructure:"node_id"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	HTTP            HTTPConfig      `mapstructure:"http"`
	WebSocket       WebSocketConfig `mapstructure:"websocket"`
	GRPC            GRPCConfig      `mapstructure:"grpc"`
}

type HTTPConfig struct {
	Address string `mapstructure:"address"`
	Mode    string `mapstructure:"mode"`
}

type WebSocketConfig struct {
	Path            string        `mapstructure:"path"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	SendBufferSize  int           `mapstructure:"send_buffer_size"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type GRPCConfig struct {
	Address              string `mapstructure:"address"`
	MaxConcurrentStreams int    `mapstructure:"max_concurrent_streams"`
}

// LoggingConfig selects the zap level and encoder.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig selects the snapshot store backend.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // memory, postgres or sqlite
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PersistenceConfig bounds the store retry loop.
type PersistenceConfig struct {
	MaxAttempts     uint          `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// LobbyConfig holds matchmaking limits.
type LobbyConfig struct {
	MaxSpectators     int           `mapstructure:"max_spectators"`
	DefaultSpectators int           `mapstructure:"default_spectators"`
	MinTimeLimit      int           `mapstructure:"min_time_limit"`
	MaxTimeLimit      int           `mapstructure:"max_time_limit"`
	DefaultTimeLimit  int           `mapstructure:"default_time_limit"`
	Retention         time.Duration `mapstructure:"retention"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	ArmyDeckSize      int           `mapstructure:"army_deck_size"`
	CivicDeckSize     int           `mapstructure:"civic_deck_size"`
	MinDeckNameLength int           `mapstructure:"min_deck_name_length"`
}

// GameConfig holds the match rules that are deliberately configurable.
type GameConfig struct {
	OpeningArmyHand  int    `mapstructure:"opening_army_hand"`
	OpeningCivicHand int    `mapstructure:"opening_civic_hand"`
	StartingMorale   int    `mapstructure:"starting_morale"`
	StartingTier     int    `mapstructure:"starting_tier"`
	ReplenishArmy    int    `mapstructure:"replenish_army"`
	ReplenishCivic   int    `mapstructure:"replenish_civic"`
	EmptyDeckPolicy  string `mapstructure:"empty_deck_policy"` // ignore or lose
	ShuffleSeed      int64  `mapstructure:"shuffle_seed"`      // 0 means random
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	Issuer        string `mapstructure:"issuer"`
	AllowInsecure bool   `mapstructure:"allow_insecure"`
}

// NATSConfig enables the cross-node broadcast relay.
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// ReplayConfig controls on-disk replays of finished matches.
type ReplayConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// DecksConfig points at the deck fixture file.
type DecksConfig struct {
	File string `mapstructure:"file"`
}

// SetDefaults registers a default for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.node_id", "")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.http.address", ":8080")
	v.SetDefault("server.http.mode", "release")
	v.SetDefault("server.websocket.path", "/ws")
	v.SetDefault("server.websocket.write_timeout", 10*time.Second)
	v.SetDefault("server.websocket.pong_timeout", 60*time.Second)
	v.SetDefault("server.websocket.send_buffer_size", 256)
	v.SetDefault("server.websocket.max_message_bytes", 64*1024)
	v.SetDefault("server.websocket.allowed_origins", []string{})
	v.SetDefault("server.grpc.address", ":9090")
	v.SetDefault("server.grpc.max_concurrent_streams", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("persistence.max_attempts", 3)
	v.SetDefault("persistence.initial_interval", 50*time.Millisecond)
	v.SetDefault("persistence.max_interval", time.Second)

	v.SetDefault("lobby.max_spectators", 50)
	v.SetDefault("lobby.default_spectators", 10)
	v.SetDefault("lobby.min_time_limit", 5)
	v.SetDefault("lobby.max_time_limit", 120)
	v.SetDefault("lobby.default_time_limit", 30)
	v.SetDefault("lobby.retention", 2*time.Hour)
	v.SetDefault("lobby.cleanup_interval", 5*time.Minute)
	v.SetDefault("lobby.army_deck_size", 30)
	v.SetDefault("lobby.civic_deck_size", 15)
	v.SetDefault("lobby.min_deck_name_length", 3)

	v.SetDefault("game.opening_army_hand", 4)
	v.SetDefault("game.opening_civic_hand", 3)
	v.SetDefault("game.starting_morale", 25)
	v.SetDefault("game.starting_tier", 1)
	v.SetDefault("game.replenish_army", 1)
	v.SetDefault("game.replenish_civic", 0)
	v.SetDefault("game.empty_deck_policy", "ignore")
	v.SetDefault("game.shuffle_seed", 0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.allow_insecure", false)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "empire.match")

	v.SetDefault("replay.enabled", false)
	v.SetDefault("replay.dir", "replays")

	v.SetDefault("decks.file", "config/decks.yaml")
}

// New returns a viper instance with defaults and EMPIRE_ environment
// overrides wired in.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("EMPIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration file at path (optional) on top of defaults.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
	}
	return FromViper(v)
}

// FromViper reads the config file already set on v, if any, and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "memory" && strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
	}
	switch c.Game.EmptyDeckPolicy {
	case "ignore", "lose":
	default:
		return fmt.Errorf("unknown empty deck policy %q", c.Game.EmptyDeckPolicy)
	}
	if c.Game.StartingMorale <= 0 {
		return fmt.Errorf("game.starting_morale must be positive")
	}
	if c.Lobby.MinTimeLimit > c.Lobby.MaxTimeLimit {
		return fmt.Errorf("lobby.min_time_limit exceeds lobby.max_time_limit")
	}
	if c.Auth.JWTSecret == "" && !c.Auth.AllowInsecure {
		return fmt.Errorf("auth.jwt_secret is required unless auth.allow_insecure is set")
	}
	return nil
}
