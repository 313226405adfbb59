// Package config loads the server's configuration record, the fields
// spec.md §6 reserves for it plus LogDir and SrcDir, via koanf layered over struct
// defaults and a YAML file, the same loading shape
// nasa-jpl-golaborate/cmd/multiserver uses for its own config.
package config

import (
	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
)

// Config is the configuration record spec.md §6 lists, plus the log
// directory and the static-file root.
type Config struct {
	Port       int    `koanf:"port"`
	TrigMode   int    `koanf:"trig_mode"`
	TimeoutMS  int    `koanf:"timeout_ms"`
	OpenLinger bool   `koanf:"open_linger"`

	SQLHost        string `koanf:"sql_host"`
	SQLPort        int    `koanf:"sql_port"`
	SQLUser        string `koanf:"sql_user"`
	SQLPwd         string `koanf:"sql_pwd"`
	SQLDB          string `koanf:"sql_db"`
	ConnectPoolNum int    `koanf:"connect_pool_num"`

	ThreadNum int `koanf:"thread_num"`

	OpenLog      bool   `koanf:"open_log"`
	LogLevel     int    `koanf:"log_level"`
	LogQueueSize int    `koanf:"log_queue_size"`
	LogDir       string `koanf:"log_dir"`

	SrcDir string `koanf:"src_dir"`
}

// Default returns the baseline configuration, the values structs.Provider
// seeds before a YAML file is layered on top.
func Default() Config {
	return Config{
		Port:           1316,
		TrigMode:       0,
		TimeoutMS:      60000,
		OpenLinger:     false,
		SQLPort:        3306,
		ConnectPoolNum: 8,
		ThreadNum:      8,
		OpenLog:        true,
		LogLevel:       1,
		LogQueueSize:   1024,
		LogDir:         "./log",
		SrcDir:         "./resources",
	}
}

// Load reads path (if it exists) over the struct defaults. A missing file
// is not an error — Default alone is a valid configuration, same as
// multiserver.go's "file missing, who cares" handling.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, errors.Wrap(err, "config: defaults")
	}
	if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
		if !isNotExist(err) {
			return Config{}, errors.Wrap(err, "config: load "+path)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: unmarshal")
	}
	return cfg, nil
}

// isNotExist reports whether err came from a missing config file. koanf's
// file provider wraps *os.PathError without exposing it directly, so this
// falls back to the same substring check multiserver.go's setupconfig
// uses ("file missing, who cares").
func isNotExist(err error) bool {
	const needle = "no such file"
	s := err.Error()
	for i := 0; i+len(needle) <= len(s); i++ {
		if s[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
