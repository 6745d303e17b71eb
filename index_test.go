package numbat

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/swiftkick-io/xbinary"

	"github.com/swiftkick-io/numbat/common"
)

func newTestIndex(t *testing.T) (*PagedIndex, *MemFileHandler) {
	handler := NewMemFileHandler()
	index := &PagedIndex{}
	index.Reset("test.idx", handler)
	return index, handler
}

// assertSorted walks every entry and checks strict ascending key order.
func assertSorted(t *testing.T, index *PagedIndex) {
	var last uint32
	for i := uint32(0); i < index.Count(); i++ {
		entry, err := index.EntryAt(i)
		assert.Nil(t, err)
		if i > 0 {
			assert.True(t, last < entry.Key, "keys out of order at position %d", i)
		}
		last = entry.Key
	}
}

func TestIndexHeaderMissingFileIsEmpty(t *testing.T) {
	index, _ := newTestIndex(t)

	assert.Nil(t, index.LoadHeader())
	assert.Equal(t, uint32(0), index.Count())
}

func TestIndexHeaderRoundTrip(t *testing.T) {
	index, handler := newTestIndex(t)

	assert.Nil(t, index.Insert(42, 100, 0, 0))
	assert.Nil(t, index.FlushPage())

	raw := handler.Bytes("test.idx")
	assert.Equal(t, common.IndexHeaderSize+common.IndexEntrySize, len(raw))
	magic, _ := xbinary.LittleEndian.Uint32(raw, 0)
	version, _ := xbinary.LittleEndian.Uint16(raw, 4)
	count, _ := xbinary.LittleEndian.Uint32(raw, 6)
	assert.Equal(t, common.MagicNumber, magic)
	assert.Equal(t, common.IndexVersion, version)
	assert.Equal(t, uint32(1), count)

	reopened := &PagedIndex{}
	reopened.Reset("test.idx", handler)
	assert.Nil(t, reopened.LoadHeader())
	assert.Equal(t, uint32(1), reopened.Count())

	entry, err := reopened.EntryAt(0)
	assert.Nil(t, err)
	assert.Equal(t, uint32(42), entry.Key)
	assert.Equal(t, uint32(100), entry.Offset)
}

func TestIndexHeaderRejectsGarbage(t *testing.T) {
	index, handler := newTestIndex(t)

	assert.Nil(t, handler.Open("test.idx", common.ModeWriteNew))
	_, err := handler.Write([]byte("JUNKJUNKJUNK"))
	assert.Nil(t, err)
	assert.Nil(t, handler.Close())

	assert.Equal(t, common.ErrBadMagic, index.LoadHeader())
}

func TestIndexInsertSortsKeys(t *testing.T) {
	index, _ := newTestIndex(t)

	for _, key := range []uint32{10, 20, 15} {
		assert.Nil(t, index.Insert(key, key*2, 0, 0))
	}
	assert.Equal(t, uint32(3), index.Count())

	expected := []uint32{10, 15, 20}
	for i, key := range expected {
		entry, err := index.EntryAt(uint32(i))
		assert.Nil(t, err)
		assert.Equal(t, key, entry.Key)
		assert.Equal(t, key*2, entry.Offset)
	}
}

func TestIndexInsertRejectsDuplicates(t *testing.T) {
	index, _ := newTestIndex(t)

	assert.Nil(t, index.Insert(7, 50, 0, 0))
	assert.Equal(t, common.ErrDuplicateKey, index.Insert(7, 60, 0, 0))
	assert.Equal(t, uint32(1), index.Count())

	// A tombstoned entry still owns its key slot as far as Insert is
	// concerned; revival bypasses Insert entirely.
	entry, err := index.EntryAt(0)
	assert.Nil(t, err)
	entry.InternalStatus |= common.InternalStatusDeleted
	assert.Nil(t, index.SetEntryAt(0, entry))
	assert.Equal(t, common.ErrDuplicateKey, index.Insert(7, 60, 0, 0))
}

func TestIndexSearchAndLocate(t *testing.T) {
	index, _ := newTestIndex(t)

	for _, key := range []uint32{10, 20, 30} {
		assert.Nil(t, index.Insert(key, key, 0, 0))
	}

	pos, found, err := index.Search(20)
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, uint32(1), pos)

	pos, found, err = index.Search(25)
	assert.Nil(t, err)
	assert.False(t, found)
	assert.Equal(t, uint32(2), pos)

	pos, err = index.Locate(15)
	assert.Nil(t, err)
	assert.Equal(t, uint32(1), pos)

	pos, err = index.Locate(10)
	assert.Nil(t, err)
	assert.Equal(t, uint32(0), pos)

	_, err = index.Locate(31)
	assert.Equal(t, common.ErrNotFound, err)
}

func TestIndexNeighbours(t *testing.T) {
	index, _ := newTestIndex(t)

	for _, key := range []uint32{1, 2, 3} {
		assert.Nil(t, index.Insert(key, key, 0, 0))
	}

	next, err := index.NextKey(0)
	assert.Nil(t, err)
	assert.Equal(t, uint32(1), next)

	_, err = index.NextKey(2)
	assert.Equal(t, common.ErrNotFound, err)

	prev, err := index.PrevKey(2)
	assert.Nil(t, err)
	assert.Equal(t, uint32(1), prev)

	_, err = index.PrevKey(0)
	assert.Equal(t, common.ErrNotFound, err)

	_, err = index.PrevKey(99)
	assert.Equal(t, common.ErrNotFound, err)
}

func TestIndexPageFlushOnFill(t *testing.T) {
	index, handler := newTestIndex(t)

	// One shy of a full page: nothing needs to be on disk yet beyond what
	// earlier flushes wrote.
	for key := uint32(1); key < common.PageCapacity; key++ {
		assert.Nil(t, index.Insert(key, key, 0, 0))
	}

	// Filling the page flushes it and rewrites the header.
	assert.Nil(t, index.Insert(common.PageCapacity, common.PageCapacity, 0, 0))
	raw := handler.Bytes("test.idx")
	assert.Equal(t, common.IndexHeaderSize+common.PageSize, len(raw))
	count, _ := xbinary.LittleEndian.Uint32(raw, 6)
	assert.Equal(t, uint32(common.PageCapacity), count)
}

func TestIndexSecondPageStartsDirectly(t *testing.T) {
	index, _ := newTestIndex(t)

	// Ascending inserts land at the end of the index, so entry 256 opens
	// page 1 without disturbing page 0.
	for key := uint32(1); key <= common.PageCapacity+1; key++ {
		assert.Nil(t, index.Insert(key, key, 0, 0))
	}
	assert.Equal(t, uint32(common.PageCapacity+1), index.Count())

	entry, err := index.EntryAt(common.PageCapacity)
	assert.Nil(t, err)
	assert.Equal(t, uint32(common.PageCapacity+1), entry.Key)
	assertSorted(t, index)
}

func TestInsertFrontAcrossFullPages(t *testing.T) {
	index, _ := newTestIndex(t)

	// Two completely full pages of even keys.
	for i := uint32(0); i < 2*common.PageCapacity; i++ {
		assert.Nil(t, index.Insert(2*(i+1), i, 0, 0))
	}
	assert.Equal(t, uint32(2*common.PageCapacity), index.Count())

	// Inserting at the very front must slide one entry out of each full
	// page into its successor.
	assert.Nil(t, index.Insert(1, 999, 0, 0))
	assert.Equal(t, uint32(2*common.PageCapacity+1), index.Count())

	entry, err := index.EntryAt(0)
	assert.Nil(t, err)
	assert.Equal(t, uint32(1), entry.Key)
	assert.Equal(t, uint32(999), entry.Offset)

	// The old tails of pages 0 and 1 moved across their page boundaries.
	entry, err = index.EntryAt(common.PageCapacity)
	assert.Nil(t, err)
	assert.Equal(t, uint32(2*common.PageCapacity), entry.Key)

	entry, err = index.EntryAt(2 * common.PageCapacity)
	assert.Nil(t, err)
	assert.Equal(t, uint32(4*common.PageCapacity), entry.Key)

	assertSorted(t, index)
}

func TestIndexRandomInsertOrderStaysSorted(t *testing.T) {
	index, handler := newTestIndex(t)

	rng := rand.New(rand.NewSource(1))
	keys := rng.Perm(600)
	for _, key := range keys {
		assert.Nil(t, index.Insert(uint32(key+1), uint32(key), 0, 0))
	}
	assert.Equal(t, uint32(600), index.Count())
	assertSorted(t, index)

	// Survives a flush and reload.
	assert.Nil(t, index.Close())
	reopened := &PagedIndex{}
	reopened.Reset("test.idx", handler)
	assert.Nil(t, reopened.LoadHeader())
	assert.Equal(t, uint32(600), reopened.Count())
	assertSorted(t, reopened)
	assert.Nil(t, reopened.Validate())
}

func TestIndexCountingAndFiltering(t *testing.T) {
	index, _ := newTestIndex(t)

	for key := uint32(1); key <= 10; key++ {
		assert.Nil(t, index.Insert(key, key, uint8(key%3), 0))
	}

	// Tombstone three entries.
	for _, pos := range []uint32{1, 4, 7} {
		entry, err := index.EntryAt(pos)
		assert.Nil(t, err)
		entry.InternalStatus |= common.InternalStatusDeleted
		assert.Nil(t, index.SetEntryAt(pos, entry))
	}

	live, err := index.RecordCount(0, common.InternalStatusDeleted)
	assert.Nil(t, err)
	assert.Equal(t, uint32(7), live)

	deleted, err := index.RecordCount(common.InternalStatusDeleted, 0)
	assert.Nil(t, err)
	assert.Equal(t, uint32(3), deleted)

	entry, pos, err := index.FirstMatching(common.InternalStatusDeleted, 0)
	assert.Nil(t, err)
	assert.Equal(t, uint32(1), pos)
	assert.Equal(t, uint32(2), entry.Key)

	entry, pos, err = index.FirstMatching(0, common.InternalStatusDeleted)
	assert.Nil(t, err)
	assert.Equal(t, uint32(0), pos)
	assert.Equal(t, uint32(1), entry.Key)

	_, _, err = index.FirstMatching(0x80, 0)
	assert.Equal(t, common.ErrNotFound, err)

	// User-status filter is independent of tombstones: keys 3, 6, 9 carry
	// status 0 from key%3.
	positions := make([]uint32, 8)
	n, err := index.FindByStatus(0, positions)
	assert.Nil(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uint32{2, 5, 8}, positions[:n])

	// A short result slice caps the scan.
	n, err = index.FindByStatus(0, positions[:2])
	assert.Nil(t, err)
	assert.Equal(t, 2, n)
}

func TestIndexEntryBounds(t *testing.T) {
	index, _ := newTestIndex(t)

	_, err := index.EntryAt(0)
	assert.Equal(t, common.ErrOutOfBounds, err)

	assert.Nil(t, index.Insert(1, 1, 0, 0))
	assert.Equal(t, common.ErrOutOfBounds, index.SetEntryAt(1, IndexEntry{}))
}

func TestIndexValidateDetectsDisorder(t *testing.T) {
	index, handler := newTestIndex(t)

	for _, key := range []uint32{5, 10, 15} {
		assert.Nil(t, index.Insert(key, key, 0, 0))
	}
	assert.Nil(t, index.Close())
	assert.Nil(t, index.Validate())

	// Corrupt the first entry's key on disk so it outranks its neighbour.
	raw := handler.Bytes("test.idx")
	xbinary.LittleEndian.PutUint32(raw, common.IndexHeaderSize, 999)

	corrupted := &PagedIndex{}
	corrupted.Reset("test.idx", handler)
	assert.Nil(t, corrupted.LoadHeader())
	assert.Equal(t, common.ErrCorruption, corrupted.Validate())
}

func TestIndexValidateChecksPageBoundaries(t *testing.T) {
	index, handler := newTestIndex(t)

	for key := uint32(1); key <= common.PageCapacity+2; key++ {
		assert.Nil(t, index.Insert(key, key, 0, 0))
	}
	assert.Nil(t, index.Close())
	assert.Nil(t, index.Validate())

	// Break order exactly at the page 0 / page 1 boundary.
	raw := handler.Bytes("test.idx")
	firstOfPageOne := common.IndexHeaderSize + common.PageSize
	xbinary.LittleEndian.PutUint32(raw, firstOfPageOne, 1)

	corrupted := &PagedIndex{}
	corrupted.Reset("test.idx", handler)
	assert.Nil(t, corrupted.LoadHeader())
	assert.Equal(t, common.ErrCorruption, corrupted.Validate())
}
