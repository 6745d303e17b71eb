package numbat

import (
	"errors"
	"path/filepath"

	"github.com/swiftkick-io/numbat/common"
)

// Engine binds a log store and a paged index to a pair of file names. It is
// the only writer of either file and always mutates them in the same order:
// log record first, index entry second, index header last. A crash inside
// that window loses at most the trailing record.
//
// An Engine is not safe for concurrent use.
type Engine struct {
	log   LogStore
	index PagedIndex

	logName   string
	indexName string
	opened    bool
}

// NewEngine creates an engine over the two file capabilities. The handlers
// are borrowed for the engine's lifetime; the engine opens and closes the
// underlying files within each operation.
func NewEngine(logHandler, indexHandler common.FileHandler) *Engine {
	e := &Engine{}
	e.log.Reset("", logHandler)
	e.index.Reset("", indexHandler)
	return e
}

// Open binds the engine to the named files, creating either file if absent,
// and validates both headers and the index ordering. File names are limited
// to 12 characters for FAT 8.3 compatibility.
func (e *Engine) Open(logName, indexName string) error {
	// The 8.3 limit applies to the file name itself; hosted callers may add
	// a directory prefix.
	if len(filepath.Base(logName)) > common.MaxFileNameLength ||
		len(filepath.Base(indexName)) > common.MaxFileNameLength {
		return common.ErrFileNameTooLong
	}
	e.logName = logName
	e.indexName = indexName
	e.opened = false

	e.log.Reset(logName, e.log.handler)
	e.index.Reset(indexName, e.index.handler)

	if _, err := e.log.ReadHeader(); err != nil {
		if errors.Is(err, common.ErrBadMagic) || errors.Is(err, common.ErrBadVersion) {
			return err
		}
		// Missing or empty file: stamp a fresh header.
		if err := e.log.WriteHeader(); err != nil {
			return err
		}
	}

	if err := e.index.LoadHeader(); err != nil {
		return err
	}
	if e.index.Count() == 0 {
		if err := e.index.SaveHeader(); err != nil {
			return err
		}
	}
	if err := e.index.Validate(); err != nil {
		return err
	}

	e.opened = true
	return nil
}

// Close flushes any dirty index page and the header. The engine can be
// reopened afterwards.
func (e *Engine) Close() error {
	if !e.opened {
		return nil
	}
	e.opened = false
	return e.index.Close()
}

// Append writes a new record under the given key. A live entry with the same
// key fails with ErrDuplicateKey. A tombstoned entry is revived: the new
// record is appended and the existing index slot is repointed at it, leaving
// the old log bytes as dead space.
func (e *Engine) Append(key uint32, recordType uint8, payload []byte) error {
	if !e.opened {
		return common.ErrNotOpen
	}

	pos, found, err := e.index.Search(key)
	if err != nil {
		return err
	}

	if found {
		entry, err := e.index.EntryAt(pos)
		if err != nil {
			return err
		}
		if !entry.IsDeleted() {
			return common.ErrDuplicateKey
		}

		offset, err := e.log.Append(key, recordType, payload)
		if err != nil {
			return err
		}
		entry.Offset = offset
		entry.Status = common.DefaultRecordStatus
		entry.InternalStatus &^= common.InternalStatusDeleted
		if entry.InternalStatus != 0 {
			// Reserved flags survive revival; mirror them into the fresh
			// record so the two files agree.
			if err := e.log.PatchInternalStatus(offset, entry.InternalStatus); err != nil {
				return err
			}
		}
		return e.index.SetEntryAt(pos, entry)
	}

	offset, err := e.log.Append(key, recordType, payload)
	if err != nil {
		return err
	}
	return e.index.Insert(key, offset, common.DefaultRecordStatus, 0)
}

// Get reads the payload stored under key into buf and returns its length.
// Tombstoned keys report ErrNotFound. ErrBufferTooSmall is returned when buf
// cannot hold the payload; buf is untouched in that case.
func (e *Engine) Get(key uint32, buf []byte) (int, error) {
	if !e.opened {
		return 0, common.ErrNotOpen
	}
	entry, _, err := e.findLive(key)
	if err != nil {
		return 0, err
	}
	_, n, err := e.log.ReadRecord(entry.Offset, buf)
	return n, err
}

// GetByIndex reads the record at a global index position, tombstoned or not,
// returning its header and payload length.
func (e *Engine) GetByIndex(globalIdx uint32, buf []byte) (RecordHeader, int, error) {
	if !e.opened {
		return RecordHeader{}, 0, common.ErrNotOpen
	}
	entry, err := e.index.EntryAt(globalIdx)
	if err != nil {
		return RecordHeader{}, 0, err
	}
	return e.log.ReadRecord(entry.Offset, buf)
}

// UpdateStatus rewrites the user-status byte of the record at a global index
// position, in the log file and the index entry both.
func (e *Engine) UpdateStatus(globalIdx uint32, newStatus uint8) error {
	if !e.opened {
		return common.ErrNotOpen
	}
	entry, err := e.index.EntryAt(globalIdx)
	if err != nil {
		return err
	}
	if err := e.log.PatchStatus(entry.Offset, newStatus); err != nil {
		return err
	}
	entry.Status = newStatus
	return e.index.SetEntryAt(globalIdx, entry)
}

// Delete tombstones the record under key. The deletion bit is set in the log
// record's internal-status byte and in the index entry; the slot keeps its
// sorted position for later revival. Deleting a tombstoned key is a no-op.
func (e *Engine) Delete(key uint32) error {
	if !e.opened {
		return common.ErrNotOpen
	}
	pos, found, err := e.index.Search(key)
	if err != nil {
		return err
	}
	if !found {
		return common.ErrNotFound
	}
	entry, err := e.index.EntryAt(pos)
	if err != nil {
		return err
	}
	if entry.IsDeleted() {
		return nil
	}

	newInternal := entry.InternalStatus | common.InternalStatusDeleted
	if err := e.log.PatchInternalStatus(entry.Offset, newInternal); err != nil {
		return err
	}
	entry.InternalStatus = newInternal
	return e.index.SetEntryAt(pos, entry)
}

// findLive resolves key to its index entry, treating tombstones as absent.
func (e *Engine) findLive(key uint32) (IndexEntry, uint32, error) {
	pos, found, err := e.index.Search(key)
	if err != nil {
		return IndexEntry{}, 0, err
	}
	if !found {
		return IndexEntry{}, 0, common.ErrNotFound
	}
	entry, err := e.index.EntryAt(pos)
	if err != nil {
		return IndexEntry{}, 0, err
	}
	if entry.IsDeleted() {
		return IndexEntry{}, 0, common.ErrNotFound
	}
	return entry, pos, nil
}

// IndexCount returns the total number of index entries, live and tombstoned.
func (e *Engine) IndexCount() uint32 {
	return e.index.Count()
}

// IndexEntryAt returns the index entry at a global position.
func (e *Engine) IndexEntryAt(globalIdx uint32) (IndexEntry, error) {
	if !e.opened {
		return IndexEntry{}, common.ErrNotOpen
	}
	return e.index.EntryAt(globalIdx)
}

// FindKey returns the global position of an exact key match, tombstoned or
// not.
func (e *Engine) FindKey(key uint32) (uint32, error) {
	if !e.opened {
		return 0, common.ErrNotOpen
	}
	pos, found, err := e.index.Search(key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, common.ErrNotFound
	}
	return pos, nil
}

// LocateKey returns the smallest global position whose key is >= key.
func (e *Engine) LocateKey(key uint32) (uint32, error) {
	if !e.opened {
		return 0, common.ErrNotOpen
	}
	return e.index.Locate(key)
}

// NextKey returns the global position following current.
func (e *Engine) NextKey(current uint32) (uint32, error) {
	if !e.opened {
		return 0, common.ErrNotOpen
	}
	return e.index.NextKey(current)
}

// PrevKey returns the global position preceding current.
func (e *Engine) PrevKey(current uint32) (uint32, error) {
	if !e.opened {
		return 0, common.ErrNotOpen
	}
	return e.index.PrevKey(current)
}

// FindByStatus collects the global positions of entries whose user status
// equals status, up to the capacity of out.
func (e *Engine) FindByStatus(status uint8, out []uint32) (int, error) {
	if !e.opened {
		return 0, common.ErrNotOpen
	}
	return e.index.FindByStatus(status, out)
}

// FirstMatching returns the first entry whose internal status satisfies the
// mask predicate, with its global position.
func (e *Engine) FirstMatching(mustBeSet, mustBeClear uint8) (IndexEntry, uint32, error) {
	if !e.opened {
		return IndexEntry{}, 0, common.ErrNotOpen
	}
	return e.index.FirstMatching(mustBeSet, mustBeClear)
}

// FirstActive returns the first entry not marked deleted.
func (e *Engine) FirstActive() (IndexEntry, uint32, error) {
	return e.FirstMatching(0, common.InternalStatusDeleted)
}

// FirstDeleted returns the first tombstoned entry.
func (e *Engine) FirstDeleted() (IndexEntry, uint32, error) {
	return e.FirstMatching(common.InternalStatusDeleted, 0)
}

// RecordCount tallies entries whose internal status has every bit of
// mustBeSet present and every bit of mustBeClear absent.
func (e *Engine) RecordCount(mustBeSet, mustBeClear uint8) (uint32, error) {
	if !e.opened {
		return 0, common.ErrNotOpen
	}
	return e.index.RecordCount(mustBeSet, mustBeClear)
}

// LiveRecordCount returns the number of entries not marked deleted.
func (e *Engine) LiveRecordCount() (uint32, error) {
	return e.RecordCount(0, common.InternalStatusDeleted)
}

// DeletedRecordCount returns the number of tombstoned entries.
func (e *Engine) DeletedRecordCount() (uint32, error) {
	return e.RecordCount(common.InternalStatusDeleted, 0)
}

// Version returns the database file format version.
func (e *Engine) Version() uint16 {
	return common.LogVersion
}
