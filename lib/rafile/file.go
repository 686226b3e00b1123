// Package rafile defines the random-access file abstraction consumed by
// lib/bgfs, lib/smfs and lib/phvl, plus a concrete implementation backed by
// *os.File. Spec §6 names this an external collaborator by interface only;
// the concrete adapter here is what lets the rest of the module actually
// run against a real filesystem and what the tests exercise.
package rafile

import (
	"io"
	"os"

	"github.com/kvexpr/phkv/lib/pherr"
)

// File is an absolute-offset random-access file. All three on-disk formats
// (BGFS, SMFS, PHVL) are built on top of this interface alone; none of them
// ever reach for *os.File directly.
//
// Read and Write always operate at the file's current position, which is
// advanced by the call; Seek repositions it. Short reads or writes are
// reported as errors, never as a partial io.Reader/io.Writer-style count.
type File interface {
	// Read fills p completely from the current position, or fails.
	Read(p []byte) error
	// Write writes all of p at the current position, or fails.
	Write(p []byte) error
	// Seek moves the current position to an absolute offset. It fails if
	// offset is past the current size of the file.
	Seek(offset int64) error
	// SeekEnd moves the current position to the end of the file and
	// returns the new size.
	SeekEnd() (int64, error)
	// Size returns the current file size without changing the position
	// (implemented via SeekEnd + Seek back).
	Size() (int64, error)
	// Path returns the filesystem path this handle was opened with, for
	// diagnostics only.
	Path() string
	// Close releases the underlying handle.
	Close() error
}

// osFile implements File on top of *os.File.
type osFile struct {
	f    *os.File
	path string
	pos  int64
}

// Open opens path for reading and writing, creating it if create is true
// and it does not exist.
func Open(path string, create bool) (File, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, pherr.Wrap(pherr.IoError, err, "open "+path)
	}
	return &osFile{f: f, path: path}, nil
}

func (o *osFile) Read(p []byte) error {
	n, err := io.ReadFull(o.f, p)
	o.pos += int64(n)
	if err != nil {
		return pherr.Wrap(pherr.IoError, err, "short read")
	}
	return nil
}

func (o *osFile) Write(p []byte) error {
	n, err := o.f.Write(p)
	o.pos += int64(n)
	if err != nil {
		return pherr.Wrap(pherr.IoError, err, "short write")
	}
	if n != len(p) {
		return pherr.Newf(pherr.IoError, "short write: wrote %d of %d bytes", n, len(p))
	}
	return nil
}

func (o *osFile) Seek(offset int64) error {
	size, err := o.sizeNoRestore()
	if err != nil {
		return err
	}
	if offset > size {
		return pherr.Newf(pherr.IoError, "seek past end of file: offset=%d size=%d", offset, size)
	}
	if _, err := o.f.Seek(offset, io.SeekStart); err != nil {
		return pherr.Wrap(pherr.IoError, err, "seek")
	}
	o.pos = offset
	return nil
}

func (o *osFile) SeekEnd() (int64, error) {
	size, err := o.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, pherr.Wrap(pherr.IoError, err, "seek end")
	}
	o.pos = size
	return size, nil
}

func (o *osFile) sizeNoRestore() (int64, error) {
	size, err := o.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, pherr.Wrap(pherr.IoError, err, "seek end")
	}
	if _, err := o.f.Seek(o.pos, io.SeekStart); err != nil {
		return 0, pherr.Wrap(pherr.IoError, err, "seek restore")
	}
	return size, nil
}

func (o *osFile) Size() (int64, error) {
	cur := o.pos
	size, err := o.SeekEnd()
	if err != nil {
		return 0, err
	}
	if err := o.Seek(cur); err != nil {
		return 0, err
	}
	return size, nil
}

func (o *osFile) Path() string {
	return o.path
}

func (o *osFile) Close() error {
	if err := o.f.Close(); err != nil {
		return pherr.Wrap(pherr.IoError, err, "close "+o.path)
	}
	return nil
}
