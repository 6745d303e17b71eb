package common

// FileHandler is the random-access file capability the engine is built on.
// Implementations back it with a hosted filesystem, a FAT volume on flash, or
// an in-memory buffer for tests.
//
// The engine opens, operates and closes within every disk-touching call, so
// Open must be cheap to repeat. Implementations may keep a descriptor open
// behind the scenes and reuse it when Open is called again with an identical
// (name, mode) pair.
type FileHandler interface {

	// Open prepares the named file in the given mode. Opening a handler which
	// is already open closes the previous file first.
	Open(name string, mode FileMode) error

	// Close releases the current file. Closing an unopened handler is a
	// no-op.
	Close() error

	// Seek moves the file position to an absolute byte offset.
	Seek(offset uint32) error

	// SeekToEnd moves the file position past the last byte of the file.
	SeekToEnd() error

	// Tell returns the current file position.
	Tell() (uint32, error)

	// Read fills buf from the current position. Short reads return the number
	// of bytes actually read; only an inability to read at all is an error.
	Read(buf []byte) (int, error)

	// Write stores buf at the current position, returning the number of bytes
	// written.
	Write(buf []byte) (int, error)
}
