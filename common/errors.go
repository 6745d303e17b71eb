package common

import "errors"

// ## **Possible Engine Errors**

var (
	// ErrBadMagic occurs when a file does not begin with the expected
	// signature bytes.
	ErrBadMagic = errors.New("invalid file signature")

	// ErrBadVersion occurs when the version in a file header is unrecognized.
	ErrBadVersion = errors.New("invalid file version")

	// ErrDuplicateKey occurs when appending a key which already has a live
	// index entry.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound occurs when the requested key has no live index entry.
	ErrNotFound = errors.New("key not found")

	// ErrBufferTooSmall occurs when the caller's buffer cannot hold a record
	// payload.
	ErrBufferTooSmall = errors.New("buffer too small for record")

	// ErrCorruption occurs when index validation detects out-of-order keys.
	ErrCorruption = errors.New("index corruption detected")

	// ErrOutOfBounds occurs when a global index position is beyond the index
	// count.
	ErrOutOfBounds = errors.New("index position out of bounds")

	// ErrRecordTooLarge occurs when a payload exceeds the 16-bit record
	// length field.
	ErrRecordTooLarge = errors.New("record is too large")

	// ErrShortWrite occurs when fewer bytes were written than requested.
	ErrShortWrite = errors.New("short write")

	// ErrShortRead occurs when fewer bytes were read than requested.
	ErrShortRead = errors.New("short read")

	// ErrFileNameTooLong occurs when a file name exceeds MaxFileNameLength.
	ErrFileNameTooLong = errors.New("file name too long")

	// ErrNotOpen occurs when an operation is attempted before Open succeeds.
	ErrNotOpen = errors.New("database not open")

	// ErrReadOnly occurs when a write is attempted on a handler opened in
	// read mode.
	ErrReadOnly = errors.New("file opened read-only")

	// ErrFileLocked occurs when another process holds the write lock on a
	// database file.
	ErrFileLocked = errors.New("file locked by another writer")
)
