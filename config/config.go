// Package config declares the room engine's tunables: federation timeouts,
// the get_missing_events prefetch count, and outbound resend backoff. As
// SPEC_FULL.md §2 notes, this module is a library embedded into a larger
// process, not a standalone service with its own config file — callers
// construct a Config in-process and pass it to room.New, rather than
// loading and upgrading a YAML file the way meowlnir's config/upgrade.go
// does for a whole appservice. The yaml tags exist so a host process that
// does read its config from disk (as meowlnir's does) can embed Config as
// one block of a larger struct.
package config

import "time"

type Config struct {
	// Host is this engine's own server name, used as the origin on
	// outbound transactions and as the signing server name.
	Host string `yaml:"host"`

	// FederationTimeout bounds make_join/send_join/send_txn requests.
	FederationTimeout time.Duration `yaml:"federation_timeout"`
	// MissingEventsTimeout bounds get_missing_events prefetch requests.
	MissingEventsTimeout time.Duration `yaml:"missing_events_timeout"`
	// MissingEventsPrefetchLimit caps how many predecessor events are
	// pulled right after a join completes.
	MissingEventsPrefetchLimit int `yaml:"missing_events_prefetch_limit"`
	// OutboundResendDelay is how long an outbound transaction waits
	// before retrying under the same txn id after a failed send.
	OutboundResendDelay time.Duration `yaml:"outbound_resend_delay"`
	// OutboundConcurrency bounds how many send_txn requests one room
	// actor keeps in flight across all remote servers at once.
	OutboundConcurrency int64 `yaml:"outbound_concurrency"`

	// AllowedServers lists server-name patterns in the form
	// registry.Registry.SetAllowedServers takes. Nothing in this module
	// reads the field; the registry is restricted only by what is passed
	// to SetAllowedServers.
	AllowedServers []string `yaml:"allowed_servers"`
}

// Default returns the tunables a fresh deployment would start from.
func Default() Config {
	return Config{
		FederationTimeout:          5 * time.Second,
		MissingEventsTimeout:       60 * time.Second,
		MissingEventsPrefetchLimit: 10,
		OutboundResendDelay:        30 * time.Second,
		OutboundConcurrency:        10,
	}
}
