package zjson

// Marshal and unmarshal zlib-compressed JSON files.
// Writes go to a temporary file in the destination directory which is then
// renamed over the target, so readers never see a partial file.
// Files should end with the extension '.zz' so pigz can use them.

import (
	"compress/zlib"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

func Decode(r io.Reader, obj interface{}) error {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "zlib header")
	}
	defer zr.Close()

	return errors.Wrap(json.NewDecoder(zr).Decode(obj), "json decode")
}

func Encode(w io.Writer, obj interface{}) error {
	zw, err := zlib.NewWriterLevel(w, zlib.BestCompression)
	if err != nil {
		return err
	}

	if err = json.NewEncoder(zw).Encode(obj); err != nil {
		return errors.Wrap(err, "json encode")
	}

	return zw.Close()
}

func Store(path string, obj interface{}) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmpf, err := os.CreateTemp(dir, base+".*")
	if err != nil {
		return errors.Wrapf(err, "%s: temp file", path)
	}
	defer os.Remove(tmpf.Name())

	if err = Encode(tmpf, obj); err != nil {
		tmpf.Close()
		return errors.Wrapf(err, "%s", path)
	}

	if err = tmpf.Close(); err != nil {
		return err
	}

	return errors.Wrapf(os.Rename(tmpf.Name(), path), "%s: rename", path)
}

func Load(path string, obj interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "%s: file open", path)
	}
	defer f.Close()

	return errors.Wrapf(Decode(f, obj), "%s", path)
}
