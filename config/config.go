// Package config defines the server's configuration surface and a
// change-notification facility.
//
// Grounded on bundoc.Options/DefaultOptions (a plain struct of tunables
// plus a constructor filling in defaults), generalized to spec.md's
// ambient-stack configuration knobs (connection limits, cache sizing,
// detailed logging) instead of bundoc's storage-engine knobs
// (BufferPoolSize, WALPath, EncryptionKey) which have no equivalent here
// since C2's persistence model has no WAL or page cache of its own.
package config

import (
	"time"

	"github.com/kartikbazzad/docstore/events"
)

// Config is the full set of server tunables.
type Config struct {
	Host                     string
	Port                     int
	DataPath                 string
	MaxConcurrentConnections int
	ConnectionTimeout        time.Duration
	KeepAliveInterval        time.Duration
	ReceiveBufferSize        int
	SendBufferSize           int
	RequireAuthentication    bool
	TokenExpirationHours     int
	MaxCacheItemCount        int
	EnableDetailedLogging    bool
}

// Default returns the configuration bundoc.DefaultOptions-style
// constructors use: sane, documented defaults for every field, path
// derived from the given data directory.
func Default(dataPath string) *Config {
	return &Config{
		Host:                     "127.0.0.1",
		Port:                     27080,
		DataPath:                 dataPath,
		MaxConcurrentConnections: 1000,
		ConnectionTimeout:        30 * time.Second,
		KeepAliveInterval:        15 * time.Second,
		ReceiveBufferSize:        64 * 1024,
		SendBufferSize:           64 * 1024,
		RequireAuthentication:    true,
		TokenExpirationHours:     24,
		MaxCacheItemCount:        10000,
		EnableDetailedLogging:    false,
	}
}

// ConfigurationChanged is published whenever a live field is updated via
// Watcher.Apply.
type ConfigurationChanged struct {
	Previous Config
	Current  Config
}

// Watcher holds a live, swappable Config and notifies subscribers of
// changes, the way bundoc's database.go fans changes out to dependent
// subsystems (e.g. logger verbosity, connection limits) without
// restarting the process.
type Watcher struct {
	current Config
	bus     *events.Bus[ConfigurationChanged]
}

// NewWatcher wraps an initial configuration.
func NewWatcher(initial Config) *Watcher {
	return &Watcher{current: initial, bus: events.NewBus[ConfigurationChanged]()}
}

// Current returns a snapshot of the live configuration.
func (w *Watcher) Current() Config { return w.current }

// Apply installs next as the live configuration and publishes
// ConfigurationChanged with the previous and new snapshots.
func (w *Watcher) Apply(next Config) {
	prev := w.current
	w.current = next
	w.bus.Publish(ConfigurationChanged{Previous: prev, Current: next})
}

// Changes subscribes to configuration updates; call the returned
// function to unsubscribe.
func (w *Watcher) Changes(fn func(ConfigurationChanged)) (unsubscribe func()) {
	return w.bus.Subscribe(fn)
}
