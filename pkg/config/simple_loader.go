package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. STARLOAD_WAREHOUSE_DSN
const EnvPrefix = "STARLOAD"

// Load reads a YAML file on top of Default(). ${VAR} references are
// substituted from the environment before parsing.
func Load(filePath string) (*Config, error) {
	cfg := Default()
	if filePath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return cfg, nil
}

// Save saves a configuration to a YAML file
func Save(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewViper returns a viper instance reading STARLOAD_* environment variables,
// with dots in keys mapped to underscores.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Overlay applies values present in v (bound flags or environment) on top
// of cfg. Keys absent from v leave cfg untouched.
func Overlay(cfg *Config, v *viper.Viper) {
	setString(v, "name", &cfg.Name)
	setString(v, "sources.dir", &cfg.Sources.Dir)
	setString(v, "sources.s3.endpoint", &cfg.Sources.S3.Endpoint)
	setString(v, "reviews.uri", &cfg.Reviews.URI)
	setString(v, "reviews.database", &cfg.Reviews.Database)
	setString(v, "reviews.collection", &cfg.Reviews.Collection)
	setString(v, "warehouse.driver", &cfg.Warehouse.Driver)
	setString(v, "warehouse.dsn", &cfg.Warehouse.DSN)
	setString(v, "lock.redis_addr", &cfg.Lock.RedisAddr)
	setString(v, "lock.redis_password", &cfg.Lock.RedisPassword)
	setString(v, "observability.logging.level", &cfg.Observability.Logging.Level)
	setString(v, "observability.metrics.push_gateway", &cfg.Observability.Metrics.PushGateway)

	if v.IsSet("warehouse.migrate") {
		cfg.Warehouse.Migrate = v.GetBool("warehouse.migrate")
	}
	if v.IsSet("reliability.connect_attempts") {
		cfg.Reliability.ConnectAttempts = v.GetInt("reliability.connect_attempts")
	}
	if v.IsSet("reliability.connect_interval") {
		cfg.Reliability.ConnectInterval = v.GetDuration("reliability.connect_interval")
	}
	if v.IsSet("observability.tracing.enabled") {
		cfg.Observability.Tracing.Enabled = v.GetBool("observability.tracing.enabled")
	}
}

func setString(v *viper.Viper, key string, dst *string) {
	if s := v.GetString(key); s != "" {
		*dst = s
	}
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
