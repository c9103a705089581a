// Package config defines the top-level CLI layout.
package config

import (
	"github.com/fcptools/fcpd/internal/cmd"
)

// LogConfig holds the logging flags shared by all commands.
type LogConfig struct {
	Level   string `help:"Log level (trace, debug, info, warn, error)" enum:"trace,debug,info,warn,error" default:"info" env:"FCPD_LOG_LEVEL"`
	File    string `help:"Also write logs to this file" env:"FCPD_LOG_FILE"`
	RawFile string `help:"Write raw protocol hex dumps to this file" env:"FCPD_LOG_RAW_FILE"`
}

// CLI is the root command tree parsed by kong.
type CLI struct {
	Log    LogConfig `embed:"" prefix:"log."`
	Config string    `help:"Path to config file" env:"FCPD_CONFIG"`

	Server    cmd.Server        `cmd:"" help:"Run the fcpd device server"`
	Client    cmd.Client        `cmd:"" help:"Talk to a running fcpd server"`
	Proxy     cmd.Proxy         `cmd:"" help:"Proxy the management protocol to an upstream server"`
	ConfigCmd cmd.ConfigCommand `cmd:"" name:"config" help:"Configuration utilities"`
	Install   cmd.Install       `cmd:"" help:"Install fcpd as a system service"`
	Uninstall cmd.Uninstall     `cmd:"" help:"Remove the fcpd system service"`
}
