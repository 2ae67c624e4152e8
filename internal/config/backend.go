package config

// ConfigBackend abstracts persistent config storage. The default is a TOML
// file at $XDG_CONFIG_HOME/parity/config.toml; tests substitute a map.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetStrings(key string) (val []string, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	SetStrings(key string, val []string) error
	Delete(key string) error
}
