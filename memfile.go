package numbat

import (
	"io/fs"

	"github.com/swiftkick-io/numbat/common"
)

type memFile struct {
	data []byte
}

// MemFileHandler implements the FileHandler capability over in-memory byte
// buffers. It carries its own namespace of named files, which makes it a
// drop-in backing store for tests and host-side tooling.
type MemFileHandler struct {
	files  map[string]*memFile
	cur    *memFile
	mode   common.FileMode
	pos    int
	isOpen bool
}

// NewMemFileHandler creates a handler with an empty namespace.
func NewMemFileHandler() *MemFileHandler {
	return &MemFileHandler{files: make(map[string]*memFile)}
}

// Open prepares the named buffer in the given mode. Modes without create
// semantics fail with fs.ErrNotExist when the buffer is absent.
func (m *MemFileHandler) Open(name string, mode common.FileMode) error {
	if m.isOpen {
		m.Close()
	}

	file, ok := m.files[name]
	switch mode {
	case common.ModeRead, common.ModeReadWrite:
		if !ok {
			return fs.ErrNotExist
		}
	case common.ModeWriteNew:
		file = &memFile{}
		m.files[name] = file
	case common.ModeReadWriteCreate:
		if !ok {
			file = &memFile{}
			m.files[name] = file
		}
	}

	m.cur = file
	m.mode = mode
	m.pos = 0
	m.isOpen = true
	return nil
}

// Close releases the current buffer. Closing an unopened handler is a no-op.
func (m *MemFileHandler) Close() error {
	m.cur = nil
	m.isOpen = false
	return nil
}

// Seek moves the position to an absolute byte offset, which may lie beyond
// the end of the buffer; a later write zero-fills the gap.
func (m *MemFileHandler) Seek(offset uint32) error {
	if !m.isOpen {
		return common.ErrNotOpen
	}
	m.pos = int(offset)
	return nil
}

// SeekToEnd moves the position past the last byte.
func (m *MemFileHandler) SeekToEnd() error {
	if !m.isOpen {
		return common.ErrNotOpen
	}
	m.pos = len(m.cur.data)
	return nil
}

// Tell returns the current position.
func (m *MemFileHandler) Tell() (uint32, error) {
	if !m.isOpen {
		return 0, common.ErrNotOpen
	}
	return uint32(m.pos), nil
}

// Read copies bytes from the current position into buf. Reading at or past
// the end returns a zero count, not an error.
func (m *MemFileHandler) Read(buf []byte) (int, error) {
	if !m.isOpen {
		return 0, common.ErrNotOpen
	}
	if m.pos >= len(m.cur.data) {
		return 0, nil
	}
	n := copy(buf, m.cur.data[m.pos:])
	m.pos += n
	return n, nil
}

// Write copies buf into the buffer at the current position, growing it as
// needed.
func (m *MemFileHandler) Write(buf []byte) (int, error) {
	if !m.isOpen {
		return 0, common.ErrNotOpen
	}
	if !m.mode.Writable() {
		return 0, common.ErrReadOnly
	}

	end := m.pos + len(buf)
	if end > len(m.cur.data) {
		grown := make([]byte, end)
		copy(grown, m.cur.data)
		m.cur.data = grown
	}
	copy(m.cur.data[m.pos:end], buf)
	m.pos = end
	return len(buf), nil
}

// Bytes exposes the raw contents of a named buffer for inspection. The slice
// aliases the live buffer.
func (m *MemFileHandler) Bytes(name string) []byte {
	if file, ok := m.files[name]; ok {
		return file.data
	}
	return nil
}

// Exists reports whether a named buffer has been created.
func (m *MemFileHandler) Exists(name string) bool {
	_, ok := m.files[name]
	return ok
}

// Remove deletes a named buffer.
func (m *MemFileHandler) Remove(name string) {
	delete(m.files, name)
}
