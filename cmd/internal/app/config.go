package app

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Document backends.
const (
	BackendMemory   = "memory"
	BackendCouch    = "couch"
	BackendPostgres = "postgres"
)

// Notifiers.
const (
	NotifierLog  = "log"
	NotifierSMTP = "smtp"
	NotifierNone = "none"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// PublicURL is where activation and reset links point.
	PublicURL string

	Backend         string
	DocstoreTimeout time.Duration
	UsersDB         string
	ProjectsDB      string

	CouchURL      string
	CouchUser     string
	CouchPassword string
	// CouchCreateDBs creates the users and projects databases at startup.
	CouchCreateDBs bool

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	Notifier     string
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	// If true, PROJECTHUB_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) so in-memory
	// token keys are HMAC digests.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("PROJECTHUB_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PROJECTHUB_LOG_LEVEL", "info"),
		LogFormat: EnvChoice("PROJECTHUB_LOG_FORMAT", "json", "json", "pretty"),

		ReadHeaderTimeout: EnvDuration("PROJECTHUB_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PROJECTHUB_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PROJECTHUB_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PROJECTHUB_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("PROJECTHUB_HTTP_MAX_HEADER_BYTES", 1<<20),

		PublicURL: EnvString("PROJECTHUB_PUBLIC_URL", "http://localhost:8080"),

		Backend:         strings.ToLower(EnvString("PROJECTHUB_DOCSTORE_BACKEND", BackendMemory)),
		DocstoreTimeout: EnvDuration("PROJECTHUB_DOCSTORE_TIMEOUT", 10*time.Second),
		UsersDB:         EnvString("PROJECTHUB_DOCSTORE_USERS_DB", "users"),
		ProjectsDB:      EnvString("PROJECTHUB_DOCSTORE_PROJECTS_DB", "projects"),

		CouchURL:       EnvString("PROJECTHUB_COUCHDB_URL", ""),
		CouchUser:      EnvString("PROJECTHUB_COUCHDB_USER", ""),
		CouchPassword:  EnvString("PROJECTHUB_COUCHDB_PASSWORD", ""),
		CouchCreateDBs: EnvBool("PROJECTHUB_COUCHDB_CREATE_DBS", false),

		DatabaseURL: EnvString("PROJECTHUB_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PROJECTHUB_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PROJECTHUB_DB_MIN_CONNS", 0),

		Notifier:     strings.ToLower(EnvString("PROJECTHUB_NOTIFIER", NotifierLog)),
		SMTPHost:     EnvString("PROJECTHUB_SMTP_HOST", ""),
		SMTPPort:     EnvInt("PROJECTHUB_SMTP_PORT", 587),
		SMTPUser:     EnvString("PROJECTHUB_SMTP_USER", ""),
		SMTPPassword: EnvString("PROJECTHUB_SMTP_PASSWORD", ""),
		SMTPFrom:     EnvString("PROJECTHUB_SMTP_FROM", ""),

		RequireTokenHMAC: EnvBool("PROJECTHUB_REQUIRE_TOKEN_HMAC", false),
	}
}

// Validate reports the first inconsistency in cfg.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendCouch:
		if c.CouchURL == "" {
			return errors.New("config: PROJECTHUB_COUCHDB_URL is required for the couch backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: PROJECTHUB_DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown docstore backend %q", c.Backend)
	}

	switch c.Notifier {
	case NotifierLog, NotifierNone:
	case NotifierSMTP:
		if c.SMTPHost == "" || c.SMTPFrom == "" {
			return errors.New("config: PROJECTHUB_SMTP_HOST and PROJECTHUB_SMTP_FROM are required for the smtp notifier")
		}
	default:
		return fmt.Errorf("config: unknown notifier %q", c.Notifier)
	}

	u, err := url.Parse(strings.TrimSpace(c.PublicURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("config: PROJECTHUB_PUBLIC_URL %q is not an absolute http(s) url", c.PublicURL)
	}
	return nil
}
