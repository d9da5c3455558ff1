// Package backup packages a closed data directory into a verified,
// self-describing backup, and restores one into place. A restored
// directory is indistinguishable from the original: the next boot runs
// the ordinary recovery path over it.
package backup

import (
	"encoding/json"
	"hash/crc64"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// ManifestName is the manifest file written at the backup root.
const ManifestName = "MANIFEST.json"

// Manifest describes a backup: its identity, creation time, and every
// captured file with its size and checksum.
type Manifest struct {
	UUID      uuid.UUID `json:"uuid"`
	CreatedAt time.Time `json:"created_at"`
	Files     []File    `json:"files"`
}

// File is one captured file of a backup, with its path relative to the
// data directory root.
type File struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	CRC64 uint64 `json:"crc64,string"`
}

var crcTable = crc64.MakeTable(crc64.ECMA)

// Take copies the closed data directory |dataDir| into |dst| and writes
// a Manifest describing the capture. The directory must not be open for
// writing: Take reads each file exactly once and records the checksum
// of what it copied.
func Take(fs afero.Fs, dataDir, dst string) (*Manifest, error) {
	if ok, err := afero.Exists(fs, filepath.Join(dst, ManifestName)); err != nil {
		return nil, errors.Wrapf(err, "probing %s", dst)
	} else if ok {
		return nil, errors.Errorf("destination %s already holds a backup", dst)
	}

	var files, err = listFiles(fs, dataDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no files under data directory %s", dataDir)
	}

	var m = &Manifest{UUID: uuid.New(), CreatedAt: time.Now().UTC()}
	for _, rel := range files {
		var f, err = copyFile(fs,
			filepath.Join(dataDir, rel), filepath.Join(dst, rel))
		if err != nil {
			return nil, err
		}
		f.Path = rel
		m.Files = append(m.Files, f)
	}

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding manifest")
	}
	if err = afero.WriteFile(fs, filepath.Join(dst, ManifestName), b, 0644); err != nil {
		return nil, errors.Wrap(err, "writing manifest")
	}
	return m, nil
}

// Restore verifies the backup under |src| against its Manifest and then
// copies it into |dataDir|, which must be empty or absent. No file is
// written unless every captured file verifies.
func Restore(fs afero.Fs, src, dataDir string) (*Manifest, error) {
	var b, err = afero.ReadFile(fs, filepath.Join(src, ManifestName))
	if err != nil {
		return nil, errors.Wrap(err, "reading manifest")
	}
	var m Manifest
	if err = json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "parsing manifest")
	}

	for _, f := range m.Files {
		if err = verifyFile(fs, filepath.Join(src, f.Path), f); err != nil {
			return nil, err
		}
	}

	if err = ensureEmpty(fs, dataDir); err != nil {
		return nil, err
	}
	for _, f := range m.Files {
		if _, err = copyFile(fs,
			filepath.Join(src, f.Path), filepath.Join(dataDir, f.Path)); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// listFiles returns the regular files under |dir|, relative to it.
func listFiles(fs afero.Fs, dir string) ([]string, error) {
	var files []string
	var err = afero.Walk(fs, dir,
		func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			files = append(files, rel)
			return nil
		})
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", dir)
	}
	return files, nil
}

// copyFile copies |src| to |dst|, creating parent directories, and
// returns the size and checksum of the bytes written.
func copyFile(fs afero.Fs, src, dst string) (File, error) {
	var in, err = fs.Open(src)
	if err != nil {
		return File{}, errors.Wrapf(err, "opening %s", src)
	}
	defer in.Close()

	if err = fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return File{}, errors.Wrapf(err, "creating %s", filepath.Dir(dst))
	}
	out, err := fs.Create(dst)
	if err != nil {
		return File{}, errors.Wrapf(err, "creating %s", dst)
	}

	var crc = crc64.New(crcTable)
	n, err := io.Copy(io.MultiWriter(out, crc), in)
	if err != nil {
		_ = out.Close()
		return File{}, errors.Wrapf(err, "copying %s", src)
	}
	if err = out.Close(); err != nil {
		return File{}, errors.Wrapf(err, "closing %s", dst)
	}
	return File{Size: n, CRC64: crc.Sum64()}, nil
}

// verifyFile checks |path| against its manifest entry.
func verifyFile(fs afero.Fs, path string, f File) error {
	var in, err = fs.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer in.Close()

	var crc = crc64.New(crcTable)
	n, err := io.Copy(crc, in)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	if n != f.Size || crc.Sum64() != f.CRC64 {
		return errors.Errorf(
			"backup file %s does not match its manifest (size %d vs %d, crc64 %x vs %x)",
			f.Path, n, f.Size, crc.Sum64(), f.CRC64)
	}
	return nil
}

// ensureEmpty errors unless |dir| is empty or absent.
func ensureEmpty(fs afero.Fs, dir string) error {
	var entries, err = afero.ReadDir(fs, dir)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return errors.Wrapf(err, "reading %s", dir)
	}
	if len(entries) != 0 {
		return errors.Errorf("data directory %s is not empty", dir)
	}
	return nil
}
