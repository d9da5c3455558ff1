package main

import (
	"fmt"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/rizalgowandy/skytable/backup"
	mbp "github.com/rizalgowandy/skytable/mainboilerplate"
)

type cmdBackup struct {
	Dest string `long:"dest" required:"true" description:"Destination directory of the backup"`
}

type cmdRestore struct {
	Src string `long:"src" required:"true" description:"Source directory of the backup"`
}

func init() {
	cmdRegistry.AddCommand("", "backup", "Back up a stopped data directory", `
Copy every file of a stopped data directory into the destination,
writing a manifest of per-file sizes and checksums alongside. The
destination must not already hold a backup.

Stop the server (or snapshot the filesystem) before backing up: the
copy is not transactional against concurrent writes.
`, &cmdBackup{})

	cmdRegistry.AddCommand("", "restore", "Restore a backup into an empty data directory", `
Verify every file of the backup against its manifest checksums, and then
copy the files into the data directory, which must be empty or absent.
The next boot recovers from the restored stores as after any restart.
`, &cmdRestore{})
}

func (cmd *cmdBackup) Execute([]string) error {
	startup()

	var manifest, err = backup.Take(afero.NewOsFs(), dataDir(), cmd.Dest)
	mbp.Must(err, "backup failed", "dir", dataDir(), "dest", cmd.Dest)

	fmt.Printf("Backup %s: %d files, %s.\n",
		manifest.UUID, len(manifest.Files), humanize.IBytes(uint64(manifestBytes(manifest))))
	return nil
}

func (cmd *cmdRestore) Execute([]string) error {
	startup()

	var manifest, err = backup.Restore(afero.NewOsFs(), cmd.Src, dataDir())
	mbp.Must(err, "restore failed", "src", cmd.Src, "dir", dataDir())

	fmt.Printf("Restored backup %s of %s: %d files, %s.\n",
		manifest.UUID, manifest.CreatedAt.Format("2006-01-02 15:04:05 MST"),
		len(manifest.Files), humanize.IBytes(uint64(manifestBytes(manifest))))
	return nil
}

func manifestBytes(m *backup.Manifest) int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}
