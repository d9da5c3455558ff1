package main

import (
	"fmt"
	"os"

	humanize "github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"

	mbp "github.com/rizalgowandy/skytable/mainboilerplate"
	"github.com/rizalgowandy/skytable/txn"
)

type cmdCompact struct{}

func init() {
	cmdRegistry.AddCommand("", "compact", "Compact the stores of a stopped data directory", `
Recover the data directory and fold the accumulated journal deltas of
every store into a fresh base image, truncating the journals. The next
boot then recovers from the images alone.

Compaction also runs in the background of a serving skyd when store
heuristics recommend it; this command exists to force a full compaction
while the server is stopped, typically ahead of a backup.
`, &cmdCompact{})
}

func (cmdCompact) Execute([]string) error {
	startup()

	var opts, err = journalOptions()
	mbp.Must(err, "invalid data configuration")
	// The explicit pass below replaces the recommendation-driven one.
	opts.DisableAutoCompact = true

	var co *txn.Coordinator
	co, err = txn.Open(afero.NewOsFs(), dataDir(), opts)
	mbp.Must(err, "failed to open data directory", "dir", dataDir())

	if co.ReadOnly() {
		mbp.Must(fmt.Errorf("data directory recovered degraded"),
			"cannot compact a corrupt data directory; run `skyd repair` first")
	}

	var table = tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Store", "Deltas", "Journal", "Image", "Image After"})

	for _, si := range co.Stores() {
		var before = si.Store.Stats()
		mbp.Must(si.Store.Compact(), "compaction failed", "store", si.Name)
		var after = si.Store.Stats()

		table.Append([]string{
			si.Name,
			fmt.Sprintf("%d", before.Deltas),
			humanize.IBytes(uint64(before.SegmentBytes)),
			humanize.IBytes(uint64(before.ImageBytes)),
			humanize.IBytes(uint64(after.ImageBytes)),
		})
	}
	table.Render()

	mbp.Must(co.Close(), "failed to close data directory")
	return nil
}
