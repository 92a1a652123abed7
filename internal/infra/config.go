package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xela07ax/trustmesh/internal/audit"
	"github.com/xela07ax/trustmesh/internal/classifier"
	"github.com/xela07ax/trustmesh/internal/domain"
	"github.com/xela07ax/trustmesh/internal/fraud"
	"github.com/xela07ax/trustmesh/internal/ledger"
)

// Config — корневая структура конфигурации сервиса.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	GRPC         GRPCConfig         `mapstructure:"grpc"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Fraud        fraud.Config       `mapstructure:"fraud"`
	Coordination CoordinationConfig `mapstructure:"coordination"`
	Audit        audit.Config       `mapstructure:"audit"`
	Policy       PolicyConfig       `mapstructure:"policy"`
	Content      ContentConfig      `mapstructure:"content"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

type GRPCConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig описывает подключение к PostgreSQL. При пустом URL состояние живет только в памяти.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub заморозок и кэш).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig — проверка токенов внешнего провайдера идентичности. Выпуск токенов не наша зона.
type AuthConfig struct {
	PublicKeyPath string        `mapstructure:"public_key_path"`
	Issuer        string        `mapstructure:"issuer"`
	Leeway        time.Duration `mapstructure:"leeway"`
	PublicKey     []byte
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LedgerConfig — параметры леджера плюс путь к таблице событий (YAML). Пустой путь — встроенная таблица.
type LedgerConfig struct {
	ledger.Config `mapstructure:",squash"`
	EventsFile    string `mapstructure:"events_file"`
}

// Classifier строит классификатор событий из файла или встроенной таблицы.
func (c LedgerConfig) Classifier() (*classifier.Classifier, error) {
	if c.EventsFile == "" {
		return classifier.Default(), nil
	}
	f, err := os.Open(c.EventsFile)
	if err != nil {
		return nil, fmt.Errorf("config: open events file: %w", err)
	}
	defer f.Close()
	return classifier.Load(f)
}

type CoordinationConfig struct {
	Timeout                     time.Duration `mapstructure:"timeout"`
	LowPriorityQueueCapacity    int           `mapstructure:"low_priority_queue_capacity"`
	MediumPriorityQueueCapacity int           `mapstructure:"medium_priority_queue_capacity"`
	EscalationActor             string        `mapstructure:"escalation_actor"`
	EscalationAction            string        `mapstructure:"escalation_action"`
	Workers                     int           `mapstructure:"workers"`
}

// PolicyConfig — требования к доверию поверх объявленных акторами. Может только ужесточать.
type PolicyConfig struct {
	Requirements []domain.PolicyRule `mapstructure:"requirements"`
}

// ContentConfig — внешний генеративный сервис. Пустой Addr — локальный мок.
type ContentConfig struct {
	Addr                  string        `mapstructure:"addr"`
	Timeout               time.Duration `mapstructure:"timeout"`
	RPS                   float64       `mapstructure:"rps"`
	Burst                 int           `mapstructure:"burst"`
	Attempts              uint          `mapstructure:"attempts"`
	CBMaxRequests         uint32        `mapstructure:"cb_max_requests"`
	CBInterval            time.Duration `mapstructure:"cb_interval"`
	CBTimeout             time.Duration `mapstructure:"cb_timeout"`
	CBConsecutiveFailures uint32        `mapstructure:"cb_consecutive_failures"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	return load(v)
}

// LoadConfigFile читает конфигурацию из явно указанного файла.
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Списки не выражаются через ENV, поэтому пустые берем из встроенных значений
	if len(cfg.Ledger.LevelThresholds) == 0 {
		cfg.Ledger.LevelThresholds = ledger.DefaultLevelThresholds
	}
	if len(cfg.Ledger.Badges) == 0 {
		cfg.Ledger.Badges = ledger.DefaultBadges()
	}
	if len(cfg.Audit.RedactKeys) == 0 {
		cfg.Audit.RedactKeys = audit.DefaultRedactKeys
	}

	// Ключ: сначала PEM прямо в ENV (Docker/K8s), иначе файл по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("grpc.port", 50052)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.leeway", 30*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	led := ledger.DefaultConfig()
	v.SetDefault("ledger.recent_event_window_size", led.RecentEventWindowSize)
	v.SetDefault("ledger.dedup_horizon", led.DedupHorizon)
	v.SetDefault("ledger.events_file", "")

	fr := fraud.DefaultConfig()
	v.SetDefault("fraud.velocity_count_threshold", fr.VelocityCountThreshold)
	v.SetDefault("fraud.velocity_time_window", fr.VelocityTimeWindow)
	v.SetDefault("fraud.repetition_count_threshold", fr.RepetitionCountThreshold)

	v.SetDefault("coordination.timeout", 5*time.Second)
	v.SetDefault("coordination.low_priority_queue_capacity", 1000)
	v.SetDefault("coordination.medium_priority_queue_capacity", 1000)
	v.SetDefault("coordination.escalation_actor", "review")
	v.SetDefault("coordination.escalation_action", "escalation")
	v.SetDefault("coordination.workers", 2)

	au := audit.DefaultConfig()
	v.SetDefault("audit.buffer_size", au.BufferSize)
	v.SetDefault("audit.batch_size", au.BatchSize)
	v.SetDefault("audit.flush_interval", au.FlushInterval)
	v.SetDefault("audit.max_param_bytes", audit.DefaultMaxParamBytes)

	v.SetDefault("content.addr", "")
	v.SetDefault("content.timeout", 10*time.Second)
	v.SetDefault("content.rps", 100)
	v.SetDefault("content.burst", 20)
	v.SetDefault("content.attempts", 3)
	v.SetDefault("content.cb_max_requests", 3)
	v.SetDefault("content.cb_interval", 5*time.Second)
	v.SetDefault("content.cb_timeout", 30*time.Second)
	v.SetDefault("content.cb_consecutive_failures", 5)
}

// loadKeyResource — ключ из ENV (PEM) или из файла по пути.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
