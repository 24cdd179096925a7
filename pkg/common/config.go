package common

import "context"

type ConfigKey int

const (
	StageKey ConfigKey = iota
	VerboseKey
	APIKeyKey
	DatabaseURLKey
	PasswordSecretKey
	DefaultPropertiesIDKey
	SeleniumURLKey
	SkipBrokenKey
	HostKey
	PortKey
	LocalAddressKey
	HealthCheckIntervalKey
	ReconcileIntervalKey
	// Add new fields _above_
	COMMON_CONFIG_KEYS_COUNT
)

type ConfigItem interface {
	Key() ConfigKey
	Value() string
}

type ConfigStore interface {
	Get(key ConfigKey) ConfigItem
	Update(ctx context.Context)
}
