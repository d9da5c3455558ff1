package main

import (
	"fmt"
	"os"

	humanize "github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/rizalgowandy/skytable/journal"
	mbp "github.com/rizalgowandy/skytable/mainboilerplate"
)

type cmdRepair struct {
	DryRun bool `long:"dry-run" description:"Scan and report, but modify nothing"`
}

func init() {
	cmdRegistry.AddCommand("", "repair", "Repair the journals of a corrupt data directory", `
Scan the journal of every store of a stopped data directory, and trim or
drop whatever a crash or disk fault left unusable: torn tails are cut at
the last committed record boundary, segments beyond a corrupt record are
dropped, and segments wholly covered by the base image are removed.

Committed records beyond a fault are lost. Repair is the operator action
taken when recovery refuses to open a directory and a degraded read-only
open will not do; prefer restoring from a backup when one exists. An
unreadable base image cannot be repaired from the journal.

Use --dry-run to report what a repair would do without modifying
anything.
`, &cmdRepair{})
}

func (cmd *cmdRepair) Execute([]string) error {
	startup()

	var fs = afero.NewOsFs()
	var stores, err = storeDirs(fs, dataDir())
	mbp.Must(err, "failed to list stores", "dir", dataDir())

	var table = tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Store", "Segment", "Records", "Size", "Trim", "State", "Action"})

	var failed int
	for _, sd := range stores {
		var rep *journal.Report
		if cmd.DryRun {
			rep, err = journal.Scan(fs, sd.Dir)
		} else {
			rep, err = journal.Repair(fs, sd.Dir)
		}
		if rep == nil {
			mbp.Must(err, "failed to scan store", "store", sd.Name)
		}

		if rep.ImageErr != "" {
			table.Append([]string{sd.Name, "(base image)", "-", "-", "-", rep.ImageErr, "restore"})
		}
		for _, sr := range rep.Segments {
			var trim = "-"
			if sr.TrimBytes != 0 {
				trim = humanize.IBytes(uint64(sr.TrimBytes))
			}
			table.Append([]string{
				sd.Name,
				sr.Name,
				fmt.Sprintf("%d", sr.Deltas),
				humanize.IBytes(uint64(sr.Bytes)),
				trim,
				segmentState(sr),
				sr.Action,
			})
		}
		if err != nil {
			failed++
		}
	}
	table.Render()

	if failed != 0 {
		return errors.Errorf("%d store(s) cannot be repaired from their journals", failed)
	}
	if cmd.DryRun {
		fmt.Println("Dry run: nothing was modified.")
	}
	return nil
}

func segmentState(sr journal.SegmentReport) string {
	switch {
	case sr.Corruption != nil:
		return sr.Corruption.Reason
	case sr.Obsolete:
		return "obsolete"
	case sr.Unreachable:
		return "unreachable"
	case sr.Clean:
		return "clean"
	default:
		return "open tail"
	}
}
