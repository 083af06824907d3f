// Package config binds the link's runtime settings (§6 "Configuration
// keys") to a viper-backed key/value store rooted at distribution/tcp,
// the way the original DistributionSocketLink::read_configuration reads
// its configurator. It mirrors the pack's config-binding convention
// (skshohagmiah-gomsg/config) rather than hand-rolling a flag struct.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/carrot-garden/native-workrave/link"
)

// Default values, grounded on DistributionSocketLink's DEFAULT_PORT /
// DEFAULT_ATTEMPTS / DEFAULT_INTERVAL constants (original_source).
const (
	DefaultPort              = 2701
	DefaultReconnectAttempts = 3
	DefaultReconnectInterval = 60 * time.Second
)

// KeyRoot is the configuration key root every TCP distribution setting
// lives under (§6).
const KeyRoot = "distribution.tcp"

// PortEnvOverride is the environment variable that overrides the
// configured port unconditionally (§6 "Environment override").
const PortEnvOverride = "WORKRAVE_PORT"

// Store wraps a *viper.Viper bound to KeyRoot and produces link.Config
// snapshots, re-reading on every call so a change notification (driven
// by an embedder's own file-watch or RPC call) need only call Snapshot
// again.
type Store struct {
	v *viper.Viper
}

// New returns a Store with defaults installed; configPath, if non-empty,
// is read as an additional config file (YAML/TOML/JSON, sniffed by
// extension, same as viper.SetConfigFile everywhere else in the pack).
func New(configPath string) (*Store, error) {
	v := viper.New()
	v.SetEnvPrefix("WORKRAVE")
	v.AutomaticEnv()

	v.SetDefault(KeyRoot+".port", DefaultPort)
	v.SetDefault(KeyRoot+".username", "")
	v.SetDefault(KeyRoot+".password", "")
	v.SetDefault(KeyRoot+".reconnect_attempts", DefaultReconnectAttempts)
	v.SetDefault(KeyRoot+".reconnect_interval", int(DefaultReconnectInterval/time.Second))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	return &Store{v: v}, nil
}

// Snapshot builds a link.Config from the current key/value state,
// applying the WORKRAVE_PORT environment override (§6) ahead of the
// configured port key.
func (s *Store) Snapshot() link.Config {
	port := s.v.GetInt(KeyRoot + ".port")
	if raw := os.Getenv(PortEnvOverride); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			port = p
		}
	}

	return link.Config{
		Port:              uint16(port),
		Username:          s.v.GetString(KeyRoot + ".username"),
		Password:          s.v.GetString(KeyRoot + ".password"),
		ReconnectAttempts: s.v.GetInt(KeyRoot + ".reconnect_attempts"),
		ReconnectInterval: time.Duration(s.v.GetInt(KeyRoot+".reconnect_interval")) * time.Second,
	}
}

// SetPort overrides the port key in memory; it does not persist to any
// backing file.
func (s *Store) SetPort(port uint16) { s.v.Set(KeyRoot+".port", int(port)) }

// SetCredentials overrides username/password in memory.
func (s *Store) SetCredentials(username, password string) {
	s.v.Set(KeyRoot+".username", username)
	s.v.Set(KeyRoot+".password", password)
}

// PortChanged reports whether applying next would change the listening
// port relative to prev, the trigger for the bounce-on-port-change rule
// (§6: "A port change while enabled forces set_enabled(false);
// set_enabled(true)").
func PortChanged(prev, next link.Config) bool {
	return prev.Port != next.Port
}
