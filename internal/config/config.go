package config

// DefaultPort is the protocol's default listen port.
const DefaultPort = 16180

// Config holds server configuration values.
type Config struct {
	// Address is the local bind address; empty means any local address.
	Address string
	// Port is the listen port, 1-65535.
	Port int
	// DatabasePath locates the sqlite database holding identities and bans.
	DatabasePath string
	// LogFile is appended to in addition to console output.
	LogFile string
}

// Default returns the documented fallback configuration.
func Default() Config {
	return Config{
		Address:      "",
		Port:         DefaultPort,
		DatabasePath: "relayd.db",
		LogFile:      "relayd.log",
	}
}
