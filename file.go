package numbat

import (
	"io"
	"os"

	"github.com/alphadose/haxmap"
	"github.com/swiftkick-io/m3"
	"golang.org/x/sys/unix"

	"github.com/swiftkick-io/numbat/common"
)

// DiskOption configures a DiskFileHandler.
type DiskOption func(*DiskFileHandler)

// WithWriteStrategy selects how writes reach permanent storage. The default
// is m3.NoSyncOnWrite; m3.SyncOnWrite trades throughput for durability on
// every write.
func WithWriteStrategy(strategy m3.WriteStrategy) DiskOption {
	return func(d *DiskFileHandler) {
		d.strategy = strategy
	}
}

// WithHandleCache shares descriptors across the engine's open-per-operation
// pattern. Handlers holding the same cache reuse a single descriptor per
// file instead of churning through the OS open path.
func WithHandleCache(cache *HandleCache) DiskOption {
	return func(d *DiskFileHandler) {
		d.cache = cache
	}
}

// WithExclusiveLock takes an advisory exclusive lock whenever a file is
// opened writable, so a second process cannot write the same database.
func WithExclusiveLock() DiskOption {
	return func(d *DiskFileHandler) {
		d.lock = true
	}
}

// DiskFileHandler implements the FileHandler capability over the hosted
// filesystem.
type DiskFileHandler struct {
	file     *os.File
	writer   io.WriteCloser
	name     string
	mode     common.FileMode
	cached   bool
	strategy m3.WriteStrategy
	cache    *HandleCache
	lock     bool
}

// NewDiskFileHandler creates a handler with the given options.
func NewDiskFileHandler(opts ...DiskOption) *DiskFileHandler {
	d := &DiskFileHandler{strategy: m3.NoSyncOnWrite}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func openFlags(mode common.FileMode) int {
	switch mode {
	case common.ModeRead:
		return os.O_RDONLY
	case common.ModeWriteNew:
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC
	case common.ModeReadWrite:
		return os.O_RDWR
	default:
		return os.O_RDWR | os.O_CREATE
	}
}

// Open prepares the named file. An identical (name, mode) pair reuses the
// current descriptor rewound to offset zero, except for ModeWriteNew, which
// always reopens so the file is truncated.
func (d *DiskFileHandler) Open(name string, mode common.FileMode) error {
	if d.file != nil {
		if name == d.name && mode == d.mode && mode != common.ModeWriteNew {
			_, err := d.file.Seek(0, io.SeekStart)
			return err
		}
		if err := d.Close(); err != nil {
			return err
		}
	}

	var file *os.File
	var err error
	if d.cache != nil {
		file, err = d.cache.acquire(name, mode)
	} else {
		file, err = os.OpenFile(name, openFlags(mode), 0600)
	}
	if err != nil {
		return err
	}

	if d.lock && mode.Writable() {
		if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			if d.cache == nil {
				file.Close()
			}
			return common.ErrFileLocked
		}
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		if d.cache == nil {
			file.Close()
		}
		return err
	}

	d.file = file
	d.name = name
	d.mode = mode
	d.cached = d.cache != nil
	if mode.Writable() {
		d.writer = d.strategy(file)
	} else {
		d.writer = nil
	}
	return nil
}

// Close releases the current file. Cache-owned descriptors stay open inside
// the cache for the next acquire.
func (d *DiskFileHandler) Close() error {
	if d.file == nil {
		return nil
	}
	file, writer, cached := d.file, d.writer, d.cached
	d.file = nil
	d.writer = nil

	if cached {
		return nil
	}
	if writer != nil {
		return writer.Close()
	}
	return file.Close()
}

// Seek moves the file position to an absolute byte offset.
func (d *DiskFileHandler) Seek(offset uint32) error {
	if d.file == nil {
		return common.ErrNotOpen
	}
	_, err := d.file.Seek(int64(offset), io.SeekStart)
	return err
}

// SeekToEnd moves the file position past the last byte.
func (d *DiskFileHandler) SeekToEnd() error {
	if d.file == nil {
		return common.ErrNotOpen
	}
	_, err := d.file.Seek(0, io.SeekEnd)
	return err
}

// Tell returns the current file position.
func (d *DiskFileHandler) Tell() (uint32, error) {
	if d.file == nil {
		return 0, common.ErrNotOpen
	}
	pos, err := d.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	return uint32(pos), nil
}

// Read fills buf from the current position. Reaching the end of the file is
// reported through a short count, not an error.
func (d *DiskFileHandler) Read(buf []byte) (int, error) {
	if d.file == nil {
		return 0, common.ErrNotOpen
	}
	n, err := io.ReadFull(d.file, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	return n, err
}

// Write stores buf at the current position through the write strategy.
func (d *DiskFileHandler) Write(buf []byte) (int, error) {
	if d.file == nil {
		return 0, common.ErrNotOpen
	}
	if d.writer == nil {
		return 0, common.ErrReadOnly
	}
	return d.writer.Write(buf)
}

// HandleCache retains open descriptors keyed by file name so the engine's
// open-per-operation pattern does not pay the OS open path every call. A
// cache may be shared by any number of handlers in the same process.
type HandleCache struct {
	files *haxmap.Map[string, *os.File]
}

// NewHandleCache creates an empty cache.
func NewHandleCache() *HandleCache {
	return &HandleCache{files: haxmap.New[string, *os.File]()}
}

// acquire returns the cached descriptor for name, opening one on first use.
// Cached descriptors are opened read-write so one descriptor serves every
// mode; read-only enforcement stays with the handler. A ModeWriteNew request
// against a cached descriptor truncates in place.
func (c *HandleCache) acquire(name string, mode common.FileMode) (*os.File, error) {
	if file, ok := c.files.Get(name); ok {
		if mode == common.ModeWriteNew {
			if err := file.Truncate(0); err != nil {
				return nil, err
			}
		}
		return file, nil
	}

	flags := openFlags(mode)
	if mode == common.ModeRead {
		// The descriptor will be reused for writes later.
		flags = os.O_RDWR
	}
	file, err := os.OpenFile(name, flags, 0600)
	if err != nil {
		return nil, err
	}
	c.files.Set(name, file)
	return file, nil
}

// CloseAll closes every cached descriptor. Handlers built on the cache must
// not be used afterwards without reopening.
func (c *HandleCache) CloseAll() error {
	var firstErr error
	c.files.ForEach(func(name string, file *os.File) bool {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.files.Del(name)
		return true
	})
	return firstErr
}
