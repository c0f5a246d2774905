// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"errors"
	"io"
	"io/fs"
	"sync"
)

// FileReader opens a file from an [fs.FS] on first read.
type FileReader struct {
	fsys     fs.FS
	path     string
	optional bool

	once sync.Once
	file fs.File
	err  error
}

// FileOption configures a [FileReader].
type FileOption func(*FileReader)

// Optional makes a missing file read as empty instead of failing.
func Optional() FileOption {
	return func(r *FileReader) {
		r.optional = true
	}
}

// NewFileReader returns a [FileReader] for path within fsys.
func NewFileReader(fsys fs.FS, path string, opts ...FileOption) *FileReader {
	r := &FileReader{
		fsys: fsys,
		path: path,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read implements the [io.Reader] interface.
func (r *FileReader) Read(b []byte) (int, error) {
	r.once.Do(func() {
		r.file, r.err = r.fsys.Open(r.path)
		if r.optional && errors.Is(r.err, fs.ErrNotExist) {
			r.err = io.EOF
		}
	})
	if r.err != nil {
		return 0, r.err
	}
	return r.file.Read(b)
}

// Close implements the [io.Closer] interface.
func (r *FileReader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
