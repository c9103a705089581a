package api

import "time"

// ServerConfig represents the api server configuration.
type ServerConfig struct {
	Addr              string        `help:"API server listen address" default:":3654" env:"FCPD_API_ADDR"`
	ConnectionTimeout time.Duration `kong:"-"`
	Password          string        `kong:"-"`
}
