package journal

import (
	"bytes"
	"encoding/binary"
	"hash/crc64"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/rizalgowandy/skytable/codecs"
)

// Base image layout: a fixed header followed by the codec-compressed
// state payload. The image is written to a scratch name and renamed into
// place, so a store either observes the prior image or the complete new
// one, never a torn write.
var imageMagic = [4]byte{0x73, 0x6b, 0x79, 0x62}

const (
	imageVersion   uint8 = 0x01
	imageHeaderLen       = 38
)

// imageInfo describes a loaded or written base image.
type imageInfo struct {
	watermark uint64 // Delta sequence materialized by the image.
	sum       uint64 // Checksum chain position at the watermark.
	codec     codecs.Codec
	bytes     int64 // Compressed payload size.
}

// writeImage writes the image holding |payload| at chain position
// |state|, syncs it, and atomically renames it into place.
func writeImage(fs afero.Fs, dir string, codec codecs.Codec, state writerState, payload []byte) (imageInfo, error) {
	var compressed bytes.Buffer

	var cw, err = codecs.NewCodecWriter(&compressed, codec)
	if err != nil {
		return imageInfo{}, err
	}
	if _, err = cw.Write(payload); err != nil {
		return imageInfo{}, errors.Wrap(err, "compressing image")
	}
	if err = cw.Close(); err != nil {
		return imageInfo{}, errors.Wrap(err, "compressing image")
	}

	var head [imageHeaderLen]byte
	copy(head[0:4], imageMagic[:])
	head[4] = imageVersion
	head[5] = byte(codec)
	binary.BigEndian.PutUint64(head[6:14], state.seq)
	binary.BigEndian.PutUint64(head[14:22], state.sum)
	binary.BigEndian.PutUint64(head[22:30], uint64(compressed.Len()))
	binary.BigEndian.PutUint64(head[30:38], crc64.Checksum(compressed.Bytes(), crcTable))

	var next = filepath.Join(dir, imageNextName)
	var file afero.File
	if file, err = fs.OpenFile(next, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644); err != nil {
		return imageInfo{}, errors.Wrap(err, "creating image")
	}
	if _, err = file.Write(head[:]); err == nil {
		_, err = file.Write(compressed.Bytes())
	}
	if err == nil {
		err = file.Sync()
	}
	if cErr := file.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		return imageInfo{}, errors.Wrap(err, "writing image")
	}

	if err = fs.Rename(next, filepath.Join(dir, imageName)); err != nil {
		return imageInfo{}, errors.Wrap(err, "publishing image")
	}
	return imageInfo{
		watermark: state.seq,
		sum:       state.sum,
		codec:     codec,
		bytes:     int64(compressed.Len()),
	}, nil
}

// readImage loads the base image, verifying its checksum and
// decompressing its payload. A missing image is not an error: the store
// simply replays from genesis.
func readImage(fs afero.Fs, dir string) (payload []byte, info imageInfo, ok bool, err error) {
	var buf []byte
	buf, err = afero.ReadFile(fs, filepath.Join(dir, imageName))
	if os.IsNotExist(err) {
		return nil, imageInfo{}, false, nil
	} else if err != nil {
		return nil, imageInfo{}, false, errors.Wrap(err, "reading image")
	}

	if len(buf) < imageHeaderLen {
		return nil, imageInfo{}, false, errors.New("image header is short")
	}
	if [4]byte(buf[0:4]) != imageMagic {
		return nil, imageInfo{}, false, errors.New("image has bad magic word")
	}
	if buf[4] != imageVersion {
		return nil, imageInfo{}, false, errors.Errorf("unknown image version (%d)", buf[4])
	}
	info = imageInfo{
		watermark: binary.BigEndian.Uint64(buf[6:14]),
		sum:       binary.BigEndian.Uint64(buf[14:22]),
		codec:     codecs.Codec(buf[5]),
		bytes:     int64(binary.BigEndian.Uint64(buf[22:30])),
	}
	var sum = binary.BigEndian.Uint64(buf[30:38])

	var body = buf[imageHeaderLen:]
	if int64(len(body)) != info.bytes {
		return nil, imageInfo{}, false, errors.Errorf(
			"image payload is %d bytes, header says %d", len(body), info.bytes)
	}
	if crc64.Checksum(body, crcTable) != sum {
		return nil, imageInfo{}, false, errors.New("image payload checksum mismatch")
	}

	var cr codecs.Decompressor
	if cr, err = codecs.NewCodecReader(bytes.NewReader(body), info.codec); err != nil {
		return nil, imageInfo{}, false, err
	}
	defer cr.Close()

	if payload, err = io.ReadAll(cr); err != nil {
		return nil, imageInfo{}, false, errors.Wrap(err, "decompressing image")
	}
	return payload, info, true, nil
}
