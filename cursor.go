package numbat

import (
	"io"

	"github.com/swiftkick-io/numbat/common"
)

// Cursor walks the live index entries in ascending key order, reading each
// record's payload. Tombstoned entries are skipped. Cursors start at global
// position zero and move forward until io.EOF.
type Cursor struct {
	engine *Engine
	next   uint32
	buffer []byte
}

// Cursor creates a new cursor positioned before the first entry.
func (e *Engine) Cursor() *Cursor {
	return &Cursor{
		engine: e,
		buffer: make([]byte, common.MaxRecordSize),
	}
}

// Seek positions the cursor so the following Next returns the entry at the
// given global position, or the first live entry after it.
func (c *Cursor) Seek(globalIdx uint32) error {
	if globalIdx > c.engine.IndexCount() {
		return common.ErrOutOfBounds
	}
	c.next = globalIdx
	return nil
}

// Next returns the next live entry and its payload. The payload slice is
// valid until the following call. io.EOF signals the end of the index.
func (c *Cursor) Next() (IndexEntry, []byte, error) {
	for c.next < c.engine.IndexCount() {
		pos := c.next
		c.next++

		entry, err := c.engine.IndexEntryAt(pos)
		if err != nil {
			return IndexEntry{}, nil, err
		}
		if entry.IsDeleted() {
			continue
		}
		_, n, err := c.engine.log.ReadRecord(entry.Offset, c.buffer)
		if err != nil {
			return IndexEntry{}, nil, err
		}
		return entry, c.buffer[:n], nil
	}
	return IndexEntry{}, nil, io.EOF
}
