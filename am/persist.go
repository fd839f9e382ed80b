package am

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/logger"
)

// maxConfigBackups is how many rotated copies of am.toml are kept
const maxConfigBackups = 3

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	// Delete oldest backup if exists
	oldest := configPath + ".back" + strconv.Itoa(maxConfigBackups)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		// Log deletion failures (but don't fail config save)
		logger.Warnw("Failed to delete old config backup",
			"path", oldest,
			logger.FieldError, err.Error())
	}

	// Rotate .backN-1 -> .backN down to .back1 -> .back2
	for i := maxConfigBackups - 1; i >= 1; i-- {
		from := configPath + ".back" + strconv.Itoa(i)
		to := configPath + ".back" + strconv.Itoa(i+1)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, to); err != nil {
				return errors.Wrapf(err, "failed to rotate %s", filepath.Base(from))
			}
		}
	}

	// Copy current to .back1
	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(configPath+".back1", content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// DefaultConfig returns the configuration built from defaults alone
func DefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults always unmarshal; a failure is a programming error
		panic(errors.AssertionFailedf("default config does not unmarshal: %v", err))
	}
	return cfg
}

// WriteConfig writes cfg to path as commented TOML, keeping a backup of the previous file
func WriteConfig(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	return writeWithBackup(path, data)
}

// InitConfig writes the default configuration to path.
// An existing file is left alone unless force is set.
func InitConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.WithHint(
			errors.Newf("config file %s already exists", path),
			"pass --force to overwrite it (a .back1 copy is kept)",
		)
	}
	return WriteConfig(path, DefaultConfig())
}

// UpdateSetting sets a single dotted key (for example "dispatcher.max_concurrent")
// in the config file at path, creating the file and any missing tables.
// The value is parsed as a bool, integer or float when possible, otherwise kept as a string.
func UpdateSetting(path, dottedKey, value string) error {
	parts := strings.Split(dottedKey, ".")
	for _, p := range parts {
		if p == "" {
			return errors.Newf("invalid config key %q", dottedKey)
		}
	}

	config, err := readConfigMap(path)
	if err != nil {
		return err
	}

	table := config
	for _, part := range parts[:len(parts)-1] {
		next, ok := table[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			table[part] = next
		}
		table = next
	}
	table[parts[len(parts)-1]] = parseSettingValue(value)

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	if err := validateConfigBytes(data); err != nil {
		return errors.Wrapf(err, "refusing to set %s", dottedKey)
	}
	return writeWithBackup(path, data)
}

// readConfigMap loads path as a generic TOML table, or an empty table if it does not exist
func readConfigMap(path string) (map[string]interface{}, error) {
	config := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return config, nil
}

// validateConfigBytes checks that data, layered over defaults, is a valid configuration
func validateConfigBytes(data []byte) error {
	v := viper.New()
	v.SetConfigType("toml")
	SetDefaults(v)
	if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return errors.Wrap(err, "failed to read config")
	}
	cfg, err := LoadWithViper(v)
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func parseSettingValue(value string) interface{} {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

// writeWithBackup rotates backups, marks the write as our own and writes data to path
func writeWithBackup(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}

	if err := createBackup(path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	// Mark this as our own write to prevent reload loops
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
