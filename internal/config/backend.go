package config

// Backend is the persistent store behind `v2v config set`. macOS keeps values
// in the user defaults database; other platforms use a JSON file under
// XDG_CONFIG_HOME. Values from the environment and .env are never written
// back.
type Backend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
	// Location describes where values are kept, for display.
	Location() string
}
