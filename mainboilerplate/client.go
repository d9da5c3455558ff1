package mainboilerplate

import (
	"context"
	"time"

	"github.com/rizalgowandy/skytable/catalog"
	"github.com/rizalgowandy/skytable/client"
)

// AddressConfig of a remote server, with the credentials to reach it.
type AddressConfig struct {
	Address  string        `long:"address" env:"ADDRESS" yaml:"address" description:"Server address endpoint (default localhost:2003)"`
	Username string        `long:"username" env:"USERNAME" yaml:"username" description:"Username to authenticate as (default root)"`
	Password string        `long:"password" env:"PASSWORD" yaml:"password" description:"Password to authenticate with"`
	Timeout  time.Duration `long:"timeout" env:"TIMEOUT" yaml:"timeout" description:"Timeout of a single request exchange (default 1m)"`
}

// MustDial dials the server address and authenticates the connection.
func (c *AddressConfig) MustDial(ctx context.Context) *client.Conn {
	var addr, user = c.Address, c.Username
	if addr == "" {
		addr = "localhost:2003"
	}
	if user == "" {
		user = catalog.RootUsername
	}
	var conn, err = client.Dial(ctx, addr, user, c.Password,
		client.Options{Timeout: c.Timeout})
	Must(err, "failed to dial server", "endpoint", addr, "user", user)

	return conn
}
