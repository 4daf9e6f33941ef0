package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
)

// EnvPrefix prefixes environment overrides, e.g. GAIADB_DOWNLOAD_PARALLELISM.
const EnvPrefix = "GAIADB"

// Loader layers defaults, an optional YAML file, environment variables and
// command-line flags, in increasing order of precedence.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a Loader seeded with NewDefault values.
func NewLoader() (*Loader, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := toMap(NewDefault())
	if err != nil {
		return nil, err
	}
	setDefaults(v, "", defaults)

	return &Loader{v: v}, nil
}

// BindFlag binds a config key to a command-line flag. The flag wins only
// when it was set explicitly.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return errors.Newf(errors.ErrorTypeConfig, "no flag bound to %q", key)
	}
	if err := l.v.BindPFlag(key, flag); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConfig, "failed to bind flag for %q", key)
	}
	return nil
}

// Load reads the optional YAML file at path and returns the merged Config.
// The result is not validated.
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		content, err := readWithEnv(path)
		if err != nil {
			return nil, err
		}
		if err := l.v.MergeConfig(bytes.NewReader(content)); err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to parse config file %s", path)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode configuration")
	}
	return cfg, nil
}

// LoadFile loads a configuration from a YAML file on top of the defaults,
// without consulting the environment beyond ${VAR} substitution.
func LoadFile(filePath string) (*Config, error) {
	content, err := readWithEnv(filePath)
	if err != nil {
		return nil, err
	}

	cfg := NewDefault()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML")
	}
	return cfg, nil
}

// Save saves a configuration to a YAML file
func Save(filePath string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write config file")
	}

	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}
	return data, nil
}

func readWithEnv(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
	}
	return []byte(substituteEnvVars(string(data))), nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	var b strings.Builder
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

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}

func toMap(cfg *Config) (map[string]interface{}, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}
	out := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal defaults: %w", err)
	}
	return out, nil
}

// setDefaults registers every leaf key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, prefix string, values map[string]interface{}) {
	for key, value := range values {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			setDefaults(v, full, nested)
			continue
		}
		v.SetDefault(full, value)
	}
}
