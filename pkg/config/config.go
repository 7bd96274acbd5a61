package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config agrupa la configuración del motor (variables de entorno, opcionalmente desde .env).
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	HTTP       HTTPConfig
	SIFEN      SIFENConfig
	Resilience ResilienceConfig
	RateLimit  RateLimitConfig
	Lateness   LatenessConfig
	Monitor    MonitorConfig
}

// AppConfig configuración general de la aplicación.
type AppConfig struct {
	Env      string // development, staging, production
	Name     string
	LogLevel string
	Storage  string // postgres | memory
	// TimbradoSeed JSON con timbrados a cargar en modo memory.
	TimbradoSeed string
}

// DBConfig configuración de PostgreSQL.
// Si DatabaseURL no está vacío, se usa como connection string completo.
type DBConfig struct {
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
}

// ConnectionString devuelve el DSN a usar: DATABASE_URL si está definido, si no el construido con DSN().
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DSN()
}

// DSN connection string con URL encoding para caracteres especiales.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// RedisConfig lock distribuido de envíos en curso. Addr vacío: lock en memoria.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// JWTConfig configuración de JWT.
type JWTConfig struct {
	Secret     string
	Expiration int // minutos
	Issuer     string
}

// HTTPConfig configuración del servidor HTTP.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SIFENConfig ambiente, certificados y límites del WS de la SET.
type SIFENConfig struct {
	Environment        string // test | prod
	SubmitURL          string
	BatchURL           string
	QueryURL           string
	QRBaseURL          string
	CertPath           string // .p12 o PEM
	CertKeyPath        string // llave PEM si CertPath es solo el certificado
	CertPassword       string
	RootsPath          string // bundle PEM de CAs para validar la cadena del certificado de firma
	RevocationPath     string // seriales revocados, uno por línea
	CSCID              string
	CSC                string
	IssuerTaxpayerType string // iTipCont
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	TotalTimeout       time.Duration
	MaxDocumentBytes   int
	MaxBatchBytes      int
	MaxBatchDocuments  int
	MinTLSVersion      uint16
}

// ResilienceConfig reintentos y circuito.
type ResilienceConfig struct {
	MaxAttempts        int
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	BreakerThreshold   int
	BreakerCooldown    time.Duration
	BreakerMaxCooldown time.Duration
}

// RateLimitConfig token bucket de llamadas a la SET.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// LatenessConfig ventana máxima de atraso.
type LatenessConfig struct {
	MaxLateness     time.Duration
	ExcludeWeekends bool
	Holidays        []time.Time
}

// MonitorConfig documentos trabados y reenvío de contingencia.
type MonitorConfig struct {
	StuckThreshold    time.Duration
	ReplayInterval    time.Duration
	ReplayConcurrency int
}

var endpoints = map[string][4]string{
	"test": {
		"https://sifen-test.set.gov.py/de/ws/sync/recibe.wsdl",
		"https://sifen-test.set.gov.py/de/ws/async/recibe-lote.wsdl",
		"https://sifen-test.set.gov.py/de/ws/consultas/consulta.wsdl",
		"https://ekuatia.set.gov.py/consultas-test/qr?",
	},
	"prod": {
		"https://sifen.set.gov.py/de/ws/sync/recibe.wsdl",
		"https://sifen.set.gov.py/de/ws/async/recibe-lote.wsdl",
		"https://sifen.set.gov.py/de/ws/consultas/consulta.wsdl",
		"https://ekuatia.set.gov.py/consultas/qr?",
	},
}

// Load lee .env (si existe) y luego las variables de entorno; las env vars tienen prioridad.
func Load() (*Config, error) {
	_ = godotenv.Load() // sin .env se usan solo las variables del proceso
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "sifen-gateway")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORAGE", "postgres")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_NAME", "sifen")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_LOCK_TTL", "2m")

	v.SetDefault("JWT_EXPIRATION_MINUTES", 60)
	v.SetDefault("JWT_ISSUER", "sifen-gateway")
	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 8080)

	v.SetDefault("SIFEN_ENVIRONMENT", "test")
	v.SetDefault("SIFEN_ISSUER_TAXPAYER_TYPE", "2")
	v.SetDefault("SIFEN_CONNECT_TIMEOUT", "10s")
	v.SetDefault("SIFEN_READ_TIMEOUT", "30s")
	v.SetDefault("SIFEN_TOTAL_TIMEOUT", "60s")
	v.SetDefault("SIFEN_MAX_DOCUMENT_BYTES", 1<<20)
	v.SetDefault("SIFEN_MAX_BATCH_BYTES", 10<<20)
	v.SetDefault("SIFEN_MAX_BATCH_DOCUMENTS", 50)
	v.SetDefault("SIFEN_MIN_TLS", "1.2")

	v.SetDefault("RETRY_MAX_ATTEMPTS", 4)
	v.SetDefault("RETRY_BASE_DELAY", "500ms")
	v.SetDefault("RETRY_MAX_DELAY", "10s")
	v.SetDefault("BREAKER_THRESHOLD", 5)
	v.SetDefault("BREAKER_COOLDOWN", "30s")
	v.SetDefault("BREAKER_MAX_COOLDOWN", "10m")

	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 10)

	v.SetDefault("LATENESS_MAX", "72h")
	v.SetDefault("LATENESS_EXCLUDE_WEEKENDS", false)
	v.SetDefault("LATENESS_HOLIDAYS", "")

	v.SetDefault("MONITOR_STUCK_THRESHOLD", "15m")
	v.SetDefault("MONITOR_REPLAY_INTERVAL", "1m")
	v.SetDefault("MONITOR_REPLAY_CONCURRENCY", 4)
}

func fromViper(v *viper.Viper) (*Config, error) {
	env := strings.ToLower(v.GetString("SIFEN_ENVIRONMENT"))
	urls, ok := endpoints[env]
	if !ok {
		return nil, fmt.Errorf("config: SIFEN_ENVIRONMENT %q inválido (test|prod)", env)
	}
	tlsFloor, err := parseTLSVersion(v.GetString("SIFEN_MIN_TLS"))
	if err != nil {
		return nil, err
	}
	holidays, err := parseDates(v.GetString("LATENESS_HOLIDAYS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Env:      v.GetString("APP_ENV"),
			Name:     v.GetString("APP_NAME"),
			LogLevel: v.GetString("LOG_LEVEL"),
			Storage:  v.GetString("STORAGE"),

			TimbradoSeed: v.GetString("TIMBRADO_SEED_FILE"),
		},
		DB: DBConfig{
			DatabaseURL: v.GetString("DATABASE_URL"),
			Host:        v.GetString("DB_HOST"),
			Port:        v.GetInt("DB_PORT"),
			User:        v.GetString("DB_USER"),
			Password:    v.GetString("DB_PASSWORD"),
			DBName:      v.GetString("DB_NAME"),
			SSLMode:     v.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			LockTTL:  v.GetDuration("REDIS_LOCK_TTL"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("JWT_SECRET"),
			Expiration: v.GetInt("JWT_EXPIRATION_MINUTES"),
			Issuer:     v.GetString("JWT_ISSUER"),
		},
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		SIFEN: SIFENConfig{
			Environment:        env,
			SubmitURL:          orDefault(v.GetString("SIFEN_SUBMIT_URL"), urls[0]),
			BatchURL:           orDefault(v.GetString("SIFEN_BATCH_URL"), urls[1]),
			QueryURL:           orDefault(v.GetString("SIFEN_QUERY_URL"), urls[2]),
			QRBaseURL:          orDefault(v.GetString("SIFEN_QR_BASE_URL"), urls[3]),
			CertPath:           v.GetString("SIFEN_CERT_PATH"),
			CertKeyPath:        v.GetString("SIFEN_CERT_KEY_PATH"),
			CertPassword:       v.GetString("SIFEN_CERT_PASSWORD"),
			RootsPath:          v.GetString("SIFEN_ROOTS_PATH"),
			RevocationPath:     v.GetString("SIFEN_REVOCATION_PATH"),
			CSCID:              v.GetString("SIFEN_CSC_ID"),
			CSC:                v.GetString("SIFEN_CSC"),
			IssuerTaxpayerType: v.GetString("SIFEN_ISSUER_TAXPAYER_TYPE"),
			ConnectTimeout:     v.GetDuration("SIFEN_CONNECT_TIMEOUT"),
			ReadTimeout:        v.GetDuration("SIFEN_READ_TIMEOUT"),
			TotalTimeout:       v.GetDuration("SIFEN_TOTAL_TIMEOUT"),
			MaxDocumentBytes:   v.GetInt("SIFEN_MAX_DOCUMENT_BYTES"),
			MaxBatchBytes:      v.GetInt("SIFEN_MAX_BATCH_BYTES"),
			MaxBatchDocuments:  v.GetInt("SIFEN_MAX_BATCH_DOCUMENTS"),
			MinTLSVersion:      tlsFloor,
		},
		Resilience: ResilienceConfig{
			MaxAttempts:        v.GetInt("RETRY_MAX_ATTEMPTS"),
			BaseDelay:          v.GetDuration("RETRY_BASE_DELAY"),
			MaxDelay:           v.GetDuration("RETRY_MAX_DELAY"),
			BreakerThreshold:   v.GetInt("BREAKER_THRESHOLD"),
			BreakerCooldown:    v.GetDuration("BREAKER_COOLDOWN"),
			BreakerMaxCooldown: v.GetDuration("BREAKER_MAX_COOLDOWN"),
		},
		RateLimit: RateLimitConfig{
			RPS:   v.GetFloat64("RATE_LIMIT_RPS"),
			Burst: v.GetInt("RATE_LIMIT_BURST"),
		},
		Lateness: LatenessConfig{
			MaxLateness:     v.GetDuration("LATENESS_MAX"),
			ExcludeWeekends: v.GetBool("LATENESS_EXCLUDE_WEEKENDS"),
			Holidays:        holidays,
		},
		Monitor: MonitorConfig{
			StuckThreshold:    v.GetDuration("MONITOR_STUCK_THRESHOLD"),
			ReplayInterval:    v.GetDuration("MONITOR_REPLAY_INTERVAL"),
			ReplayConcurrency: v.GetInt("MONITOR_REPLAY_CONCURRENCY"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Resilience.MaxAttempts < 1 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS debe ser >= 1"))
	}
	if c.SIFEN.MaxBatchDocuments < 1 || c.SIFEN.MaxBatchDocuments > 50 {
		errs = append(errs, errors.New("SIFEN_MAX_BATCH_DOCUMENTS debe estar entre 1 y 50"))
	}
	if c.Redis.LockTTL < time.Second {
		errs = append(errs, errors.New("REDIS_LOCK_TTL debe ser >= 1s"))
	}
	if c.Lateness.MaxLateness <= 0 {
		errs = append(errs, errors.New("LATENESS_MAX debe ser positivo"))
	}
	if c.App.Storage != "postgres" && c.App.Storage != "memory" {
		errs = append(errs, fmt.Errorf("STORAGE %q inválido (postgres|memory)", c.App.Storage))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func parseTLSVersion(s string) (uint16, error) {
	switch strings.TrimSpace(s) {
	case "1.2", "":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	}
	return 0, fmt.Errorf("config: SIFEN_MIN_TLS %q no admitido (1.2|1.3)", s)
}

// parseDates lista AAAA-MM-DD separada por comas.
func parseDates(s string) ([]time.Time, error) {
	var out []time.Time
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.Parse("2006-01-02", part)
		if err != nil {
			return nil, fmt.Errorf("config: feriado %q inválido: %w", part, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
