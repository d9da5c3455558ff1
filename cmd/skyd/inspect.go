package main

import (
	"fmt"
	"os"

	humanize "github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"

	"github.com/rizalgowandy/skytable/journal"
	mbp "github.com/rizalgowandy/skytable/mainboilerplate"
)

type cmdInspect struct{}

func init() {
	cmdRegistry.AddCommand("", "inspect", "Report the stores of a stopped data directory", `
Scan the base image and journal of every store of a stopped data
directory, and report their sizes, sequence watermarks, and health. The
scan is read-only and works on directories too corrupt to recover, where
it reports what repair or a degraded open would salvage.
`, &cmdInspect{})
}

func (cmdInspect) Execute([]string) error {
	startup()

	var fs = afero.NewOsFs()
	var stores, err = storeDirs(fs, dataDir())
	mbp.Must(err, "failed to list stores", "dir", dataDir())

	var table = tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Store", "Image", "Watermark", "Segments", "Journal", "Records", "Tail", "Health"})

	for _, sd := range stores {
		var rep *journal.Report
		rep, err = journal.Scan(fs, sd.Dir)
		mbp.Must(err, "failed to scan store", "store", sd.Name)

		var image = "-"
		if rep.HaveImage {
			image = humanize.IBytes(uint64(rep.ImageBytes))
		}
		var records int
		var journalBytes int64
		for _, sr := range rep.Segments {
			records += sr.Deltas
			journalBytes += sr.Bytes
		}
		var tail = "-"
		if t := rep.TrimBytes(); t != 0 {
			tail = humanize.IBytes(uint64(t))
		}

		table.Append([]string{
			sd.Name,
			image,
			fmt.Sprintf("%d", rep.Watermark),
			fmt.Sprintf("%d", len(rep.Segments)),
			humanize.IBytes(uint64(journalBytes)),
			fmt.Sprintf("%d", records),
			tail,
			storeHealth(rep),
		})
	}
	table.Render()
	return nil
}

func storeHealth(rep *journal.Report) string {
	switch {
	case rep.ImageErr != "":
		return "image unreadable"
	case rep.Corruption() != nil:
		return rep.Corruption().Reason
	case rep.TrimBytes() != 0:
		return "torn tail"
	default:
		return "ok"
	}
}
