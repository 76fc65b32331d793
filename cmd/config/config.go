package config

import (
	"github.com/ovdx/candiag/models/helpers"
)

// BusConfig describes one CAN connection: its logical address, the socketcan
// interface behind it and whether diagnostic writes are allowed on it.
type BusConfig struct {
	Address     uint8  `toml:"address"`
	Interface   string `toml:"interface"`
	RawWritable bool   `toml:"raw-writable"`
}

type Configuration struct {
	Bind                string      `toml:"bind"`
	AuthToken           string      `toml:"auth-token"`
	LogLevel            int         `toml:"log-level"`
	LogFile             string      `toml:"log-file"`
	EmulatedData        bool        `toml:"emulated-data"`
	MultiframeStreaming bool        `toml:"multiframe-streaming"`
	Obd2Bus             uint8       `toml:"obd2-bus"`
	Buses               []BusConfig `toml:"buses"`
}

var Settings = Configuration{
	Bind:      ":4242",
	AuthToken: "password",
	LogLevel:  2,
	LogFile:   "candiag.log",
}

// Load reads the configuration file, from the -config flag location if given
// and from ~/.candiag.conf otherwise. A missing default file is not an error.
func Load() error {
	fn := helpers.CheckForConfigFlag()

	if fn == nil {
		fn = helpers.LocateDotFile("candiag.conf")
		if !fn.Exists() {
			return nil
		}
	}

	return helpers.LoadConfiguration(fn, &Settings)
}
