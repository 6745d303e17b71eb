package numbat

import (
	"github.com/swiftkick-io/xbinary"

	"github.com/swiftkick-io/numbat/common"
)

// IndexEntry links a key to the byte offset of its record in the log file.
// The two status bytes mirror the record header for filtering without a log
// read.
type IndexEntry struct {
	Key            uint32
	Offset         uint32
	Status         uint8
	InternalStatus uint8
}

// IsDeleted reports whether the entry is tombstoned.
func (e IndexEntry) IsDeleted() bool {
	return e.InternalStatus&common.InternalStatusDeleted != 0
}

func (e IndexEntry) marshalAt(buf []byte, off int) {
	xbinary.LittleEndian.PutUint32(buf, off, e.Key)
	xbinary.LittleEndian.PutUint32(buf, off+4, e.Offset)
	buf[off+8] = e.Status
	buf[off+9] = e.InternalStatus
}

func unmarshalEntry(buf []byte, off int) IndexEntry {
	key, _ := xbinary.LittleEndian.Uint32(buf, off)
	offset, _ := xbinary.LittleEndian.Uint32(buf, off+4)
	return IndexEntry{
		Key:            key,
		Offset:         offset,
		Status:         buf[off+8],
		InternalStatus: buf[off+9],
	}
}

// PagedIndex maintains the key-sorted entry array across fixed-capacity pages
// on disk, holding at most one page in memory. All pages except the last are
// full; an entry's page is its global position divided by the page capacity.
type PagedIndex struct {
	name    string
	handler common.FileHandler

	page       [common.PageCapacity]IndexEntry
	pageNumber uint32
	pageLoaded bool
	pageDirty  bool

	count uint32

	scratch [common.PageSize]byte
}

// Reset points the index at a different file and drops all paging state.
func (x *PagedIndex) Reset(name string, handler common.FileHandler) {
	x.name = name
	x.handler = handler
	x.pageNumber = 0
	x.pageLoaded = false
	x.pageDirty = false
	x.count = 0
}

// Count returns the total number of index entries, live and tombstoned.
func (x *PagedIndex) Count() uint32 {
	return x.count
}

// entriesIn returns how many of page's slots are used when the index holds
// total entries.
func entriesIn(total, page uint32) uint32 {
	first := page * common.PageCapacity
	if total <= first {
		return 0
	}
	if n := total - first; n < common.PageCapacity {
		return n
	}
	return common.PageCapacity
}

func pageOffset(page uint32) uint32 {
	return common.IndexHeaderSize + page*common.PageSize
}

// LoadHeader reads the index file header. A missing or empty file is not an
// error; it simply yields an empty index.
func (x *PagedIndex) LoadHeader() error {
	if err := x.handler.Open(x.name, common.ModeRead); err != nil {
		x.count = 0
		return nil
	}
	defer x.handler.Close()

	buf := make([]byte, common.IndexHeaderSize)
	n, err := x.handler.Read(buf)
	if err != nil {
		return err
	}
	if n == 0 {
		x.count = 0
		return nil
	}
	if n < common.IndexHeaderSize {
		return common.ErrBadMagic
	}
	magic, _ := xbinary.LittleEndian.Uint32(buf, 0)
	version, _ := xbinary.LittleEndian.Uint16(buf, 4)
	if magic != common.MagicNumber {
		return common.ErrBadMagic
	}
	if version != common.IndexVersion {
		return common.ErrBadVersion
	}
	count, _ := xbinary.LittleEndian.Uint32(buf, 6)
	x.count = count
	return nil
}

// SaveHeader writes the signature, version and entry count at offset zero.
func (x *PagedIndex) SaveHeader() error {
	if err := x.handler.Open(x.name, common.ModeReadWrite); err != nil {
		if err = x.handler.Open(x.name, common.ModeWriteNew); err != nil {
			return err
		}
	}
	defer x.handler.Close()

	if err := x.handler.Seek(0); err != nil {
		return err
	}
	buf := make([]byte, common.IndexHeaderSize)
	xbinary.LittleEndian.PutUint32(buf, 0, common.MagicNumber)
	xbinary.LittleEndian.PutUint16(buf, 4, common.IndexVersion)
	xbinary.LittleEndian.PutUint32(buf, 6, x.count)
	n, err := x.handler.Write(buf)
	if err != nil {
		return err
	}
	if n != common.IndexHeaderSize {
		return common.ErrShortWrite
	}
	return nil
}

// FlushPage writes the used portion of the in-memory page to disk and then
// rewrites the header so the stored count matches. A clean page is a no-op.
func (x *PagedIndex) FlushPage() error {
	if !x.pageDirty {
		return nil
	}

	if err := x.handler.Open(x.name, common.ModeReadWrite); err != nil {
		if err = x.handler.Open(x.name, common.ModeReadWriteCreate); err != nil {
			return err
		}
	}

	err := x.writePage()
	x.handler.Close()
	if err != nil {
		return err
	}

	if err := x.SaveHeader(); err != nil {
		return err
	}
	x.pageDirty = false
	return nil
}

func (x *PagedIndex) writePage() error {
	if err := x.handler.Seek(pageOffset(x.pageNumber)); err != nil {
		return err
	}
	used := entriesIn(x.count, x.pageNumber)
	for i := uint32(0); i < used; i++ {
		x.page[i].marshalAt(x.scratch[:], int(i)*common.IndexEntrySize)
	}
	size := int(used) * common.IndexEntrySize
	n, err := x.handler.Write(x.scratch[:size])
	if err != nil {
		return err
	}
	if n != size {
		return common.ErrShortWrite
	}
	return nil
}

// LoadPage brings the requested page into memory, flushing the current page
// first. A page the file has not been extended to yet reads as zeroes.
func (x *PagedIndex) LoadPage(page uint32) error {
	if err := x.FlushPage(); err != nil {
		return err
	}

	expected := entriesIn(x.count, page)
	read := 0
	if err := x.handler.Open(x.name, common.ModeRead); err == nil {
		err = x.handler.Seek(pageOffset(page))
		if err == nil && expected > 0 {
			size := int(expected) * common.IndexEntrySize
			read, err = x.handler.Read(x.scratch[:size])
		}
		x.handler.Close()
		if err != nil {
			return err
		}
	} else if expected > 0 {
		// The header claims entries this file cannot hold.
		return common.ErrCorruption
	}

	// Zero-fill whatever the file did not provide.
	for i := read; i < int(expected)*common.IndexEntrySize; i++ {
		x.scratch[i] = 0
	}
	for i := uint32(0); i < expected; i++ {
		x.page[i] = unmarshalEntry(x.scratch[:], int(i)*common.IndexEntrySize)
	}
	for i := expected; i < common.PageCapacity; i++ {
		x.page[i] = IndexEntry{}
	}

	x.pageNumber = page
	x.pageLoaded = true
	x.pageDirty = false
	return nil
}

func (x *PagedIndex) ensurePage(page uint32) error {
	if x.pageLoaded && x.pageNumber == page {
		return nil
	}
	return x.LoadPage(page)
}

// EntryAt returns the entry at a global index position.
func (x *PagedIndex) EntryAt(globalIdx uint32) (IndexEntry, error) {
	if globalIdx >= x.count {
		return IndexEntry{}, common.ErrOutOfBounds
	}
	page := globalIdx / common.PageCapacity
	if err := x.ensurePage(page); err != nil {
		return IndexEntry{}, err
	}
	return x.page[globalIdx%common.PageCapacity], nil
}

// SetEntryAt overwrites the entry at a global index position in memory and
// marks the page dirty. The write reaches disk on the next flush.
func (x *PagedIndex) SetEntryAt(globalIdx uint32, entry IndexEntry) error {
	if globalIdx >= x.count {
		return common.ErrOutOfBounds
	}
	page := globalIdx / common.PageCapacity
	if err := x.ensurePage(page); err != nil {
		return err
	}
	x.page[globalIdx%common.PageCapacity] = entry
	x.pageDirty = true
	return nil
}

// lowerBound returns the smallest global position whose key is >= key.
func (x *PagedIndex) lowerBound(key uint32) (uint32, error) {
	low, high := uint32(0), x.count
	for low < high {
		mid := low + (high-low)/2
		entry, err := x.EntryAt(mid)
		if err != nil {
			return 0, err
		}
		if entry.Key < key {
			low = mid + 1
		} else {
			high = mid
		}
	}
	return low, nil
}

// Search performs an exact binary search across the paging layer. It returns
// the lower-bound position in either case; found reports whether the key is
// present there.
func (x *PagedIndex) Search(key uint32) (uint32, bool, error) {
	pos, err := x.lowerBound(key)
	if err != nil {
		return 0, false, err
	}
	if pos < x.count {
		entry, err := x.EntryAt(pos)
		if err != nil {
			return 0, false, err
		}
		if entry.Key == key {
			return pos, true, nil
		}
	}
	return pos, false, nil
}

// Locate returns the smallest position whose key is >= key, or ErrNotFound
// when every key is smaller.
func (x *PagedIndex) Locate(key uint32) (uint32, error) {
	pos, err := x.lowerBound(key)
	if err != nil {
		return 0, err
	}
	if pos >= x.count {
		return 0, common.ErrNotFound
	}
	return pos, nil
}

// Insert places a new entry at its sorted position. Keys must be unique among
// all entries; tombstone revival repoints the existing slot instead of
// inserting.
func (x *PagedIndex) Insert(key, offset uint32, status, internalStatus uint8) error {
	pos, err := x.lowerBound(key)
	if err != nil {
		return err
	}
	if pos < x.count {
		entry, err := x.EntryAt(pos)
		if err != nil {
			return err
		}
		if entry.Key == key {
			return common.ErrDuplicateKey
		}
	}
	if pos > 0 {
		prev, err := x.EntryAt(pos - 1)
		if err != nil {
			return err
		}
		if prev.Key == key {
			return common.ErrDuplicateKey
		}
	}
	entry := IndexEntry{Key: key, Offset: offset, Status: status, InternalStatus: internalStatus}
	return x.insertAt(pos, entry)
}

// insertAt shifts entries forward to make room at pos. When the target page
// is full its tail entry slides into the successor page, cascading until a
// page with a free slot absorbs the carry. Pages stay dense: every page
// except the last remains full, so global divmod addressing keeps working.
func (x *PagedIndex) insertAt(pos uint32, entry IndexEntry) error {
	oldCount := x.count
	page := pos / common.PageCapacity
	offsetInPage := pos % common.PageCapacity

	if err := x.ensurePage(page); err != nil {
		return err
	}
	used := entriesIn(oldCount, page)
	x.count = oldCount + 1

	if used < common.PageCapacity {
		copy(x.page[offsetInPage+1:used+1], x.page[offsetInPage:used])
		x.page[offsetInPage] = entry
		x.pageDirty = true
		if used+1 == common.PageCapacity {
			if err := x.FlushPage(); err != nil {
				return err
			}
		}
		return nil
	}

	carry := x.page[common.PageCapacity-1]
	copy(x.page[offsetInPage+1:], x.page[offsetInPage:common.PageCapacity-1])
	x.page[offsetInPage] = entry
	x.pageDirty = true

	for next := page + 1; ; next++ {
		// LoadPage flushes the dirty predecessor before switching.
		if err := x.LoadPage(next); err != nil {
			return err
		}
		used := entriesIn(oldCount, next)
		if used < common.PageCapacity {
			copy(x.page[1:used+1], x.page[0:used])
			x.page[0] = carry
			x.pageDirty = true
			if used+1 == common.PageCapacity {
				return x.FlushPage()
			}
			return nil
		}
		nextCarry := x.page[common.PageCapacity-1]
		copy(x.page[1:], x.page[0:common.PageCapacity-1])
		x.page[0] = carry
		x.pageDirty = true
		carry = nextCarry
	}
}

// NextKey returns the position following current.
func (x *PagedIndex) NextKey(current uint32) (uint32, error) {
	if current+1 >= x.count {
		return 0, common.ErrNotFound
	}
	return current + 1, nil
}

// PrevKey returns the position preceding current.
func (x *PagedIndex) PrevKey(current uint32) (uint32, error) {
	if current == 0 || current >= x.count {
		return 0, common.ErrNotFound
	}
	return current - 1, nil
}

// matches applies the internal-status mask predicate.
func matches(entry IndexEntry, mustBeSet, mustBeClear uint8) bool {
	return entry.InternalStatus&mustBeSet == mustBeSet &&
		entry.InternalStatus&mustBeClear == 0
}

// RecordCount tallies entries whose internal status has every bit of
// mustBeSet present and every bit of mustBeClear absent.
func (x *PagedIndex) RecordCount(mustBeSet, mustBeClear uint8) (uint32, error) {
	var count uint32
	for i := uint32(0); i < x.count; i++ {
		entry, err := x.EntryAt(i)
		if err != nil {
			return count, err
		}
		if matches(entry, mustBeSet, mustBeClear) {
			count++
		}
	}
	return count, nil
}

// FirstMatching returns the first entry, in key order, satisfying the
// internal-status mask predicate.
func (x *PagedIndex) FirstMatching(mustBeSet, mustBeClear uint8) (IndexEntry, uint32, error) {
	for i := uint32(0); i < x.count; i++ {
		entry, err := x.EntryAt(i)
		if err != nil {
			return IndexEntry{}, 0, err
		}
		if matches(entry, mustBeSet, mustBeClear) {
			return entry, i, nil
		}
	}
	return IndexEntry{}, 0, common.ErrNotFound
}

// FindByStatus collects positions of entries whose user status equals status,
// stopping when out is full. It returns the number of positions stored.
func (x *PagedIndex) FindByStatus(status uint8, out []uint32) (int, error) {
	found := 0
	for i := uint32(0); i < x.count && found < len(out); i++ {
		entry, err := x.EntryAt(i)
		if err != nil {
			return found, err
		}
		if entry.Status == status {
			out[found] = i
			found++
		}
	}
	return found, nil
}

// Validate checks the sorted-order invariant: the first page internally, and
// every inter-page boundary when the index spans multiple pages.
func (x *PagedIndex) Validate() error {
	if x.count == 0 {
		return nil
	}

	if err := x.LoadPage(0); err != nil {
		return err
	}
	inPage := entriesIn(x.count, 0)
	for i := uint32(1); i < inPage; i++ {
		if x.page[i-1].Key >= x.page[i].Key {
			return common.ErrCorruption
		}
	}

	pages := (x.count + common.PageCapacity - 1) / common.PageCapacity
	for p := uint32(1); p < pages; p++ {
		last, err := x.EntryAt(p*common.PageCapacity - 1)
		if err != nil {
			return err
		}
		first, err := x.EntryAt(p * common.PageCapacity)
		if err != nil {
			return err
		}
		if last.Key >= first.Key {
			return common.ErrCorruption
		}
	}
	return nil
}

// Close flushes any dirty page. The index remains usable afterwards.
func (x *PagedIndex) Close() error {
	return x.FlushPage()
}
