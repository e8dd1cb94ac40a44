package config

import "sync"

var (
	instanceMu sync.Mutex
	instance   ConfigManager
)

// GetInstance returns the process wide configuration manager, creating it on first use.
func GetInstance() ConfigManager {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		instance = NewConfigManager()
	}
	return instance
}

// SetInstanceForTesting replaces the process wide manager.
func SetInstanceForTesting(cm ConfigManager) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = cm
}

// ResetInstance drops the process wide manager; the next GetInstance creates a new one.
func ResetInstance() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = nil
}
