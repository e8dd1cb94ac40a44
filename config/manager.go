package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// decodeHook lets sections hold typed values such as log levels and durations.
var decodeHook = viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
	mapstructure.TextUnmarshallerHookFunc(),
	mapstructure.StringToTimeDurationHookFunc(),
	mapstructure.StringToSliceHookFunc(","),
))

// ErrConfigNotFound is returned by GetConfig for sections that were never loaded.
var ErrConfigNotFound = errors.New("config not found")

// ConfigManager interface for configuration management
type ConfigManager interface {
	LoadConfig(configName string, config Config) error
	GetConfig(configName string) (Config, error)
	SetBasePath(path string)
	SetEnvironment(env string)
	AddChangeListener(listener ConfigChangeListener)
	RemoveChangeListener(listener ConfigChangeListener)
	NotifyConfigChanged(configName string, newConfig, oldConfig Config)
	Close() error
}

// configManager implementation of ConfigManager interface
type configManager struct {
	mu        sync.RWMutex
	configs   map[string]Config
	files     map[string]string
	watcher   *fsnotify.Watcher
	watched   map[string]struct{}
	listeners []ConfigChangeListener
	basePath  string
	env       string
}

// NewConfigManager creates a new configuration manager reading from ./configs.
func NewConfigManager() ConfigManager {
	return &configManager{
		configs:  make(map[string]Config),
		files:    make(map[string]string),
		watched:  make(map[string]struct{}),
		basePath: "./configs",
		env:      "development",
	}
}

func (cm *configManager) newViper(configName string) *viper.Viper {
	v := viper.New()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(cm.basePath, cm.env))
	v.AddConfigPath(cm.basePath)

	// SESSION_MAXMESSAGESIZE overrides session.yaml's maxMessageSize
	v.SetEnvPrefix(strings.ToUpper(configName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads <configName>.yaml on top of the values already present in config,
// validates it and starts watching the file for changes.
func (cm *configManager) LoadConfig(configName string, config Config) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	v := cm.newViper(configName)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s failed: %w", configName, err)
	}
	if err := v.Unmarshal(config, decodeHook); err != nil {
		return fmt.Errorf("unmarshal config %s failed: %w", configName, err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("validate config %s failed: %w", configName, err)
	}

	cm.configs[configName] = config

	if err := cm.watchConfigFile(configName, v.ConfigFileUsed()); err != nil {
		return fmt.Errorf("watch config %s failed: %w", configName, err)
	}
	return nil
}

// GetConfig returns the latest validated value of a loaded section.
func (cm *configManager) GetConfig(configName string) (Config, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	config, exists := cm.configs[configName]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configName)
	}
	return config, nil
}

// SetBasePath sets base path for configuration files
func (cm *configManager) SetBasePath(path string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.basePath = path
}

// SetEnvironment sets the environment sub directory searched before the base path.
func (cm *configManager) SetEnvironment(env string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.env = env
}

func (cm *configManager) AddChangeListener(listener ConfigChangeListener) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.listeners = append(cm.listeners, listener)
}

func (cm *configManager) RemoveChangeListener(listener ConfigChangeListener) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.listeners = slices.DeleteFunc(cm.listeners, func(l ConfigChangeListener) bool {
		return l == listener
	})
}

// NotifyConfigChanged calls every listener; a failing listener does not stop the others.
func (cm *configManager) NotifyConfigChanged(configName string, newConfig, oldConfig Config) {
	cm.mu.RLock()
	listeners := slices.Clone(cm.listeners)
	cm.mu.RUnlock()

	for _, listener := range listeners {
		if err := listener.OnConfigChanged(configName, newConfig, oldConfig); err != nil {
			fmt.Fprintf(os.Stderr, "config: listener rejected %s: %v\n", configName, err)
		}
	}
}

// watchConfigFile watches the directory of the file, since editors and deploy tools
// often replace files instead of writing them in place. Must hold cm.mu.
func (cm *configManager) watchConfigFile(configName, configFile string) error {
	if configFile == "" {
		return nil
	}
	configFile = filepath.Clean(configFile)
	cm.files[configName] = configFile

	if cm.watcher == nil {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		cm.watcher = watcher
		go cm.watchLoop(watcher)
	}

	dir := filepath.Dir(configFile)
	if _, ok := cm.watched[dir]; ok {
		return nil
	}
	if err := cm.watcher.Add(dir); err != nil {
		return err
	}
	cm.watched[dir] = struct{}{}
	return nil
}

func (cm *configManager) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			for _, name := range cm.configsForFile(filepath.Clean(event.Name)) {
				cm.reloadConfig(name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "config: watcher error: %v\n", err)
		}
	}
}

func (cm *configManager) configsForFile(file string) []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var names []string
	for name, f := range cm.files {
		if f == file {
			names = append(names, name)
		}
	}
	return names
}

// reloadConfig re-reads a section. Invalid content keeps the previous value.
func (cm *configManager) reloadConfig(configName string) {
	cm.mu.Lock()
	oldConfig, exists := cm.configs[configName]
	if !exists {
		cm.mu.Unlock()
		return
	}

	newConfig := freshConfig(oldConfig)
	v := cm.newViper(configName)
	if err := v.ReadInConfig(); err != nil {
		cm.mu.Unlock()
		fmt.Fprintf(os.Stderr, "config: reload %s: read failed: %v\n", configName, err)
		return
	}
	if err := v.Unmarshal(newConfig, decodeHook); err != nil {
		cm.mu.Unlock()
		fmt.Fprintf(os.Stderr, "config: reload %s: unmarshal failed: %v\n", configName, err)
		return
	}
	if err := newConfig.Validate(); err != nil {
		cm.mu.Unlock()
		fmt.Fprintf(os.Stderr, "config: reload %s: validation failed: %v\n", configName, err)
		return
	}
	cm.configs[configName] = newConfig
	cm.mu.Unlock()

	cm.NotifyConfigChanged(configName, newConfig, oldConfig)
}

func freshConfig(old Config) Config {
	if d, ok := old.(Defaulter); ok {
		return d.Default()
	}
	return reflect.New(reflect.TypeOf(old).Elem()).Interface().(Config)
}

// Close stops watching files. Loaded sections stay readable.
func (cm *configManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.watcher == nil {
		return nil
	}
	err := cm.watcher.Close()
	cm.watcher = nil
	cm.watched = make(map[string]struct{})
	return err
}
