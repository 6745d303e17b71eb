package numbat

import (
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/swiftkick-io/xbinary"

	"github.com/swiftkick-io/numbat/common"
)

// Snapshot captures a specific state of the database. It consists of the time
// the snapshot was taken, the number of index entries, and an XXH64 hash of
// the log file bytes. Two copies of a database with equal snapshots hold
// identical records.
type Snapshot struct {
	nanos int64
	size  uint64
	hash  uint64
}

// Time converts the nanoseconds since epoch into a time.Time instance.
func (s Snapshot) Time() time.Time {
	return time.Unix(0, s.nanos)
}

// Size returns the number of index entries at the time the snapshot was
// taken.
func (s Snapshot) Size() uint64 {
	return s.size
}

// Hash returns the XXH64 hash of the log file.
func (s Snapshot) Hash() uint64 {
	return s.hash
}

// MarshalBinary converts the snapshot into a byte array.
//
//	0        8        16       24
//	+--------+--------+--------+
//	|  time  |  size  |  hash  |
//	+--------+--------+--------+
func (s Snapshot) MarshalBinary() ([]byte, error) {
	buffer := make([]byte, 24)
	xbinary.LittleEndian.PutInt64(buffer, 0, s.nanos)
	xbinary.LittleEndian.PutUint64(buffer, 8, s.size)
	xbinary.LittleEndian.PutUint64(buffer, 16, s.hash)
	return buffer, nil
}

// UnmarshalSnapshot converts a byte array back into a Snapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	if len(data) != 24 {
		return Snapshot{}, common.ErrShortRead
	}
	nanos, _ := xbinary.LittleEndian.Int64(data, 0)
	size, _ := xbinary.LittleEndian.Uint64(data, 8)
	hash, _ := xbinary.LittleEndian.Uint64(data, 16)
	return Snapshot{nanos: nanos, size: size, hash: hash}, nil
}

// Snapshot hashes the log file and records the current index count. Any
// dirty index page is flushed first so the snapshot reflects what a reopened
// engine would see.
func (e *Engine) Snapshot() (Snapshot, error) {
	if !e.opened {
		return Snapshot{}, common.ErrNotOpen
	}
	if err := e.index.FlushPage(); err != nil {
		return Snapshot{}, err
	}

	handler := e.log.handler
	if err := handler.Open(e.logName, common.ModeRead); err != nil {
		return Snapshot{}, err
	}
	defer handler.Close()

	hasher := xxhash.New64()
	buf := make([]byte, 4096)
	for {
		n, err := handler.Read(buf)
		if err != nil {
			return Snapshot{}, err
		}
		if n == 0 {
			break
		}
		hasher.Write(buf[:n])
	}

	return Snapshot{
		nanos: time.Now().UnixNano(),
		size:  uint64(e.index.Count()),
		hash:  hasher.Sum64(),
	}, nil
}
