package gossip

import (
	"github.com/go-kit/log"
)

// Network profiles select the memberlist timing defaults.
const (
	ProfileLAN   = "lan"
	ProfileWAN   = "wan"
	ProfileLocal = "local"
)

type Config struct {
	// Name is the unique name of the node within the group, used as the member
	// id. If empty, a name is generated from the host name and a random suffix.
	Name string

	// BindAddr and BindPort is where the gossip listener accepts connections.
	// Port 0 lets the OS choose a free port.
	BindAddr string
	BindPort int

	// AdvertiseAddr and AdvertisePort are announced to other nodes. They default
	// to the bind address when empty.
	AdvertiseAddr string
	AdvertisePort int

	// Domain isolates groups sharing the same network: nodes announcing a
	// different domain are refused.
	Domain string

	// Meta is the free-form node metadata distributed with the membership
	// information. The encoded size must not exceed memberlist.MetaMaxSize.
	Meta map[string]string

	// SecretKey enables gossip encryption. Must be 16, 24 or 32 bytes long.
	SecretKey []byte

	// Profile is one of ProfileLAN, ProfileWAN, ProfileLocal.
	Profile string

	// EventBuffer is the number of membership events that can be queued before
	// memberlist is blocked.
	EventBuffer int

	// Logger is used to record membership changes and delivery errors.
	// Memberlist's own output is written to it on the debug level.
	Logger log.Logger
}

// DefaultConfig creates a Config with reasonable default values.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:    "0.0.0.0",
		BindPort:    7946,
		Profile:     ProfileLAN,
		EventBuffer: 1024,
		Logger:      log.NewNopLogger(),
	}
}
