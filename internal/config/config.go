package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Exam      ExamConfig      `mapstructure:"exam"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// ExamConfig holds the exam-format constants. Marking weights and chapter
// thresholds are deliberately configuration, not code.
type ExamConfig struct {
	DurationSeconds     int      `mapstructure:"duration_seconds"`
	AutosaveSeconds     int      `mapstructure:"autosave_seconds"`
	QuestionsPerSubject int      `mapstructure:"questions_per_subject"`
	Subjects            []string `mapstructure:"subjects"`
	MarksCorrect        int      `mapstructure:"marks_correct"`
	MarksIncorrect      int      `mapstructure:"marks_incorrect"`
	StrongThreshold     float64  `mapstructure:"strong_threshold"`
	ModerateThreshold   float64  `mapstructure:"moderate_threshold"`
	ViolationLimit      int      `mapstructure:"violation_limit"`
}

type ArchiveConfig struct {
	Type          string `mapstructure:"type"` // minio | local | off
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	MinioUseSSL   bool   `mapstructure:"minio_use_ssl"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

func (e ExamConfig) Duration() time.Duration {
	return time.Duration(e.DurationSeconds) * time.Second
}

func (e ExamConfig) AutosaveInterval() time.Duration {
	return time.Duration(e.AutosaveSeconds) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("MOCKEXAM")
	viper.AutomaticEnv()

	// Database
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.dbname", "DATABASE_NAME")

	// Redis
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// JWT
	viper.BindEnv("jwt.secret", "JWT_SECRET")

	// Server
	viper.BindEnv("server.mode", "SERVER_MODE")

	// Archive
	viper.BindEnv("archive.type", "ARCHIVE_TYPE")
	viper.BindEnv("archive.minio_endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("archive.minio_access_key", "MINIO_ACCESS_KEY")
	viper.BindEnv("archive.minio_secret_key", "MINIO_SECRET_KEY")
	viper.BindEnv("archive.minio_bucket", "MINIO_BUCKET")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	applyExamDefaults(&cfg.Exam)
	return &cfg, nil
}

func applyExamDefaults(e *ExamConfig) {
	if e.DurationSeconds <= 0 {
		e.DurationSeconds = 10800
	}
	if e.AutosaveSeconds <= 0 {
		e.AutosaveSeconds = 10
	}
	if e.QuestionsPerSubject <= 0 {
		e.QuestionsPerSubject = 30
	}
	if len(e.Subjects) == 0 {
		e.Subjects = []string{"physics", "chemistry", "mathematics"}
	}
	if e.MarksCorrect == 0 {
		e.MarksCorrect = 4
	}
	if e.MarksIncorrect == 0 {
		e.MarksIncorrect = 1
	}
	if e.StrongThreshold == 0 {
		e.StrongThreshold = 70
	}
	if e.ModerateThreshold == 0 {
		e.ModerateThreshold = 40
	}
	if e.ViolationLimit == 0 {
		e.ViolationLimit = 3
	}
}
