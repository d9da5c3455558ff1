package main

import (
	"context"
	"fmt"

	"github.com/rizalgowandy/skytable/protocol"

	mbp "github.com/rizalgowandy/skytable/mainboilerplate"
)

type cmdStatus struct {
	Client mbp.AddressConfig `group:"Client" namespace:"client" env-namespace:"SKYD_CLIENT"`
}

func init() {
	cmdRegistry.AddCommand("", "status", "Report the status of a running server", `
Dial a running server, authenticate, and report its health and global
state: version, uptime, and the spaces, models, and accounts it holds.
The configured user must be the root account.

Example:
skyd status --client.address localhost:2003 --client.password [...]
`, &cmdStatus{})
}

func (cmd *cmdStatus) Execute([]string) error {
	startup()

	var conn = cmd.Client.MustDial(context.Background())
	defer conn.Close()

	var resp, err = conn.Query("SYSCTL REPORT STATUS")
	mbp.Must(err, "status query failed")
	switch {
	case !resp.IsError():
		fmt.Println("Status: OK")
	case resp.Code == protocol.CodeReadOnly:
		fmt.Println("Status: DEGRADED (read-only)")
	default:
		return protocol.NewQueryError(resp.Code, "status query was refused")
	}

	resp, err = conn.Query("INSPECT GLOBAL")
	mbp.Must(err, "inspect query failed")
	if resp.IsError() {
		return protocol.NewQueryError(resp.Code, "inspect query was refused")
	}
	fmt.Println(resp.Value.Str)
	return nil
}
