package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/partsearch/internal/apiclient"
	"github.com/nkiryanov/partsearch/internal/logger"
	"github.com/nkiryanov/partsearch/internal/service/orchestrator"
	"github.com/nkiryanov/partsearch/internal/service/vehicle"
)

const (
	TokenStoreMemory = "memory"
	TokenStoreFile   = "file"
	TokenStoreRedis  = "redis"
)

const (
	defaultLoggingLevel   = logger.LevelWarn
	defaultEnvironment    = logger.EnvDevelopment
	defaultTokenStore     = TokenStoreFile
	defaultSessionName    = "default"
	defaultRequestTimeout = 30 * time.Second
)

type Config struct {
	// Backend base URL, paths like /accounts/login/ are appended to it
	APIURL string

	// Public vehicle registry endpoint
	RegistryURL string

	LogLevel    string
	Environment string

	// Secret key
	// The file token store seals the credential with a key derived from it
	SecretKey string

	// Where the credential survives between runs: memory, file or redis
	TokenStore string

	// Directory for the file token store
	StateDir string

	RedisAddr string

	// Separates credentials of several sessions on one machine
	SessionName string

	RequestTimeout time.Duration

	// Quiet period before the vehicle lookup
	Debounce time.Duration
}

func NewConfig() *Config {
	stateDir := ".partsearch"
	if dir, err := os.UserConfigDir(); err == nil {
		stateDir = filepath.Join(dir, "partsearch")
	}

	return &Config{
		APIURL:         apiclient.DefaultBaseURL,
		RegistryURL:    vehicle.DefaultRegistryURL,
		LogLevel:       defaultLoggingLevel,
		Environment:    defaultEnvironment,
		TokenStore:     defaultTokenStore,
		StateDir:       stateDir,
		SessionName:    defaultSessionName,
		RequestTimeout: defaultRequestTimeout,
		Debounce:       orchestrator.DefaultDebounce,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"API_URL":              setString(&c.APIURL),
		"VEHICLE_REGISTRY_URL": setString(&c.RegistryURL),
		"LOG_LEVEL":            setString(&c.LogLevel),
		"ENVIRONMENT":          setString(&c.Environment),
		"SECRET_KEY":           setString(&c.SecretKey),
		"TOKEN_STORE":          setString(&c.TokenStore),
		"STATE_DIR":            setString(&c.StateDir),
		"REDIS_ADDR":           setString(&c.RedisAddr),
		"SESSION_NAME":         setString(&c.SessionName),
		"REQUEST_TIMEOUT":      setDuration(&c.RequestTimeout),
		"DEBOUNCE":             setDuration(&c.Debounce),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// ParseFlags parses global flags up to the command name and returns the rest
func (c *Config) ParseFlags(args []string) ([]string, error) {
	fs := pflag.NewFlagSet("partsearch", pflag.ContinueOnError)
	fs.SetInterspersed(false)

	fs.StringVarP(&c.APIURL, "api-url", "a", c.APIURL, "Backend base URL")
	fs.StringVar(&c.RegistryURL, "registry-url", c.RegistryURL, "Vehicle registry URL")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.TokenStore, "token-store", "t", c.TokenStore, "Token store (memory, file, redis)")
	fs.StringVar(&c.StateDir, "state-dir", c.StateDir, "Directory of the file token store")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address for the redis token store")
	fs.StringVar(&c.SessionName, "session", c.SessionName, "Session name")
	fs.DurationVar(&c.RequestTimeout, "timeout", c.RequestTimeout, "Request timeout")
	fs.DurationVar(&c.Debounce, "debounce", c.Debounce, "Quiet period before the vehicle lookup")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

// Validate checks combinations that only make sense together
func (c *Config) Validate() error {
	switch c.TokenStore {
	case TokenStoreMemory:
	case TokenStoreFile:
		if c.SecretKey == "" {
			return errors.New("secret key is required for the file token store: " +
				"set SECRET_KEY (or --secret-key), or pick --token-store=memory")
		}
	case TokenStoreRedis:
		if c.RedisAddr == "" {
			return errors.New("redis address is required for the redis token store")
		}
	default:
		return fmt.Errorf("unknown token store %q", c.TokenStore)
	}

	if c.SessionName == "" {
		return errors.New("session name must not be empty")
	}
	return nil
}
