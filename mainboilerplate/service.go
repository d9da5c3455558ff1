package mainboilerplate

import (
	"os"

	petname "github.com/dustinkirkland/golang-petname"
)

// ServiceConfig represents identification configuration of the process.
type ServiceConfig struct {
	ID   string `long:"id" env:"ID" yaml:"id" description:"Unique ID of this process. Auto-generated if not set"`
	Host string `long:"host" env:"HOST" yaml:"host" description:"Advertised hostname of this process. Hostname is used if not set"`
}

// Identity returns the configured process ID, generating a memorable
// one if it is unset.
func (cfg ServiceConfig) Identity() string {
	if cfg.ID != "" {
		return cfg.ID
	}
	petname.NonDeterministicMode() // Seed generator for Generate's use.
	return petname.Generate(2, "-")
}

// Hostname returns the configured advertised hostname, falling back to
// that of the operating system.
func (cfg ServiceConfig) Hostname() string {
	if cfg.Host != "" {
		return cfg.Host
	}
	var host, err = os.Hostname()
	Must(err, "failed to determine hostname")
	return host
}
