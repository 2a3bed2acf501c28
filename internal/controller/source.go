package controller

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSource is a raw file handle selected for submission. Open is called
// once, from the upload goroutine.
type FileSource struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// FromPath describes a file on disk.
func FromPath(path string) (FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileSource{}, err
	}
	if info.IsDir() {
		return FileSource{}, fmt.Errorf("%s is a directory", path)
	}
	return FileSource{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// FromBytes wraps in-memory content, e.g. a part already read from a request.
func FromBytes(name string, data []byte) FileSource {
	return FileSource{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}
