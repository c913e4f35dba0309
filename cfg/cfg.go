package cfg

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// PasswordPlaceholder is replaced by the database password inside the address.
const PasswordPlaceholder = "[YOUR-PASSWORD]"

var (
	tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
	drivers   = map[string]bool{"sqlite3": true, "sqlite": true, "postgres": true, "mysql": true}
	// SQLite reads a dotted name as an attached database.
	schemaDrivers = map[string]bool{"postgres": true, "mysql": true}
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Host             string
	Port             string
	Environment      string
	LogLevel         string
	DatabaseDriver   string
	DatabaseAddress  string
	DatabasePassword Secret
	DatabaseTable    string
	DBAutoMigrate    bool
	DBMaxOpenConns   int
	DBMaxIdleConns   int
	DBQueryTimeout   time.Duration
	KeyLength        int
	CreateRetries    int
	AllocTimeout     time.Duration
	RedisURL         string
	RedisTLS         bool
	RedisUsername    string
	RedisPassword    Secret
	RedisTimeout     time.Duration
	LRUCacheSize     int
	CacheTTL         time.Duration
	MaxBodySize      int64
	ContextTimeout   time.Duration
	AllowedOrigins   []string
	TrustedProxies   bool
	MetricsUser      string
	MetricsPass      Secret
}

// Load reads the optional dotenv file named by ENV_FILE (default .env) and then the
// environment. Variables already set in the environment win over the file.
func Load() (*Cfg, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrapf(err, "load %s", envFile)
	}
	c := &Cfg{}
	c.Host = getEnv("HOST", "127.0.0.1")
	c.Port = getEnv("PORT", "8521")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.DatabaseDriver = getEnv("DATABASE_DRIVER", "sqlite3")
	c.DatabaseAddress = getEnv("DATABASE_ADDRESS", getEnv("PG_ADDRESS", "hastebin.db"))
	c.DatabasePassword = NewSecret(getEnv("DATABASE_PASSWORD", getEnv("PG_PASSWORD", "")))
	c.DatabaseTable = getEnv("DATABASE_TABLE", "pastes")
	c.DBAutoMigrate = getEnv("DB_AUTO_MIGRATE", "true") == "true"
	var err error
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.KeyLength, err = getInt("KEY_LENGTH", 4)
	if err != nil {
		return nil, err
	}
	c.CreateRetries, err = getInt("CREATE_RETRIES", 0)
	if err != nil {
		return nil, err
	}
	c.AllocTimeout, err = getDuration("ALLOC_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisTLS = getEnv("REDIS_TLS", "false") == "true"
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, err
	}
	c.LRUCacheSize, err = getInt("LRU_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	c.CacheTTL, err = getDuration("CACHE_TTL", 1*time.Hour)
	if err != nil {
		return nil, err
	}
	c.MaxBodySize, err = getInt64("MAX_BODY_SIZE", 1024*1024)
	if err != nil {
		return nil, err
	}
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{"*"})
	c.TrustedProxies = getEnv("TRUST_PROXY_HEADERS", "false") == "true"
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	return c, nil
}

// DSN substitutes the password into the address placeholder.
func (c *Cfg) DSN() string {
	return strings.ReplaceAll(c.DatabaseAddress, PasswordPlaceholder, c.DatabasePassword.Value())
}
func (c *Cfg) Addr() string {
	return c.Host + ":" + c.Port
}
func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	if !drivers[c.DatabaseDriver] {
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.DatabaseAddress == "" {
		return errors.New("DATABASE_ADDRESS is required")
	}
	if strings.Contains(c.DatabaseAddress, PasswordPlaceholder) && c.DatabasePassword.Value() == "" {
		return errors.New("DATABASE_ADDRESS has a password placeholder but DATABASE_PASSWORD is empty")
	}
	if !tableName.MatchString(c.DatabaseTable) {
		return fmt.Errorf("invalid DATABASE_TABLE %q", c.DatabaseTable)
	}
	if strings.Contains(c.DatabaseTable, ".") && !schemaDrivers[c.DatabaseDriver] {
		return fmt.Errorf("DATABASE_TABLE %q: schema-qualified names need the postgres or mysql driver", c.DatabaseTable)
	}
	if c.DBMaxOpenConns <= 0 {
		return errors.New("DB_MAX_OPEN_CONNS must be positive")
	}
	if c.DBQueryTimeout <= 0 {
		return errors.New("DB_QUERY_TIMEOUT must be positive")
	}
	if c.KeyLength < 1 || c.KeyLength > 7 {
		return errors.New("KEY_LENGTH must be between 1 and 7")
	}
	if c.CreateRetries < 0 {
		return errors.New("CREATE_RETRIES cannot be negative")
	}
	if c.AllocTimeout < 0 {
		return errors.New("ALLOC_TIMEOUT cannot be negative")
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
	}
	if c.LRUCacheSize <= 0 {
		return errors.New("LRU_CACHE_SIZE must be positive")
	}
	if c.CacheTTL <= 0 {
		return errors.New("CACHE_TTL must be positive")
	}
	if c.MaxBodySize <= 0 {
		return errors.New("MAX_BODY_SIZE must be positive")
	}
	if c.MaxBodySize > 32*1024*1024 {
		return errors.New("MAX_BODY_SIZE cannot exceed 32MB")
	}
	if c.ContextTimeout <= 0 {
		return errors.New("CONTEXT_TIMEOUT must be positive")
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}
func (c *Cfg) Wipe() {
	c.DatabasePassword.Wipe()
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
