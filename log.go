package numbat

import (
	"github.com/swiftkick-io/xbinary"

	"github.com/swiftkick-io/numbat/common"
)

// FileHeader describes the fixed header at the front of the log file.
type FileHeader struct {
	Magic   uint32
	Version uint16
}

// MarshalBinary encodes the file header into a byte array.
func (h FileHeader) MarshalBinary() ([]byte, error) {
	buffer := make([]byte, common.LogHeaderSize)
	xbinary.LittleEndian.PutUint32(buffer, 0, h.Magic)
	xbinary.LittleEndian.PutUint16(buffer, 4, h.Version)
	return buffer, nil
}

// UnmarshalBinary decodes the file header from a byte array.
func (h *FileHeader) UnmarshalBinary(buffer []byte) error {
	if len(buffer) < common.LogHeaderSize {
		return common.ErrShortRead
	}
	magic, _ := xbinary.LittleEndian.Uint32(buffer, 0)
	version, _ := xbinary.LittleEndian.Uint16(buffer, 4)
	h.Magic = magic
	h.Version = version
	return nil
}

// RecordHeader precedes every payload in the log file. All fields are packed
// little-endian with no padding; the length field sits at byte offset 1.
type RecordHeader struct {
	RecordType     uint8
	Length         uint16
	Key            uint32
	Status         uint8
	InternalStatus uint8
}

// IsDeleted reports whether the record carries the tombstone bit.
func (h RecordHeader) IsDeleted() bool {
	return h.InternalStatus&common.InternalStatusDeleted != 0
}

// MarshalBinary encodes the record header into a byte array.
func (h RecordHeader) MarshalBinary() ([]byte, error) {
	buffer := make([]byte, common.RecordHeaderSize)
	buffer[0] = h.RecordType
	xbinary.LittleEndian.PutUint16(buffer, 1, h.Length)
	xbinary.LittleEndian.PutUint32(buffer, 3, h.Key)
	buffer[common.StatusFieldOffset] = h.Status
	buffer[common.InternalStatusFieldOffset] = h.InternalStatus
	return buffer, nil
}

// UnmarshalBinary decodes the record header from a byte array.
func (h *RecordHeader) UnmarshalBinary(buffer []byte) error {
	if len(buffer) < common.RecordHeaderSize {
		return common.ErrShortRead
	}
	h.RecordType = buffer[0]
	length, _ := xbinary.LittleEndian.Uint16(buffer, 1)
	key, _ := xbinary.LittleEndian.Uint32(buffer, 3)
	h.Length = length
	h.Key = key
	h.Status = buffer[common.StatusFieldOffset]
	h.InternalStatus = buffer[common.InternalStatusFieldOffset]
	return nil
}

// LogStore appends records to the log file and reads them back by offset.
// Records are never rewritten beyond their two single-byte status fields.
type LogStore struct {
	name    string
	handler common.FileHandler
}

// Reset points the store at a different log file.
func (l *LogStore) Reset(name string, handler common.FileHandler) {
	l.name = name
	l.handler = handler
}

// ReadHeader reads and validates the log file header. An open failure is
// returned untouched so callers can distinguish a missing file from a
// malformed one; an empty file reports ErrShortRead.
func (l *LogStore) ReadHeader() (FileHeader, error) {
	var header FileHeader
	if err := l.handler.Open(l.name, common.ModeRead); err != nil {
		return header, err
	}
	defer l.handler.Close()

	buf := make([]byte, common.LogHeaderSize)
	n, err := l.handler.Read(buf)
	if err != nil {
		return header, err
	}
	if n == 0 {
		return header, common.ErrShortRead
	}
	if n < common.LogHeaderSize {
		return header, common.ErrBadMagic
	}
	if err := header.UnmarshalBinary(buf); err != nil {
		return header, err
	}
	if header.Magic != common.MagicNumber {
		return header, common.ErrBadMagic
	}
	if header.Version != common.LogVersion {
		return header, common.ErrBadVersion
	}
	return header, nil
}

// WriteHeader creates the log file and stamps the signature and version at
// offset zero.
func (l *LogStore) WriteHeader() error {
	if err := l.handler.Open(l.name, common.ModeReadWriteCreate); err != nil {
		return err
	}
	defer l.handler.Close()

	if err := l.handler.Seek(0); err != nil {
		return err
	}
	header := FileHeader{Magic: common.MagicNumber, Version: common.LogVersion}
	buf, _ := header.MarshalBinary()
	n, err := l.handler.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return common.ErrShortWrite
	}
	return nil
}

// Append writes a new record at the end of the log and returns its absolute
// byte offset. The file is created, header first, on initial use. A failed or
// short write leaves at most dead trailing bytes; the caller must not index
// the offset unless Append succeeds.
func (l *LogStore) Append(key uint32, recordType uint8, payload []byte) (uint32, error) {
	if len(payload) > common.MaxRecordSize {
		return 0, common.ErrRecordTooLarge
	}

	if err := l.handler.Open(l.name, common.ModeReadWrite); err != nil {
		if err = l.handler.Open(l.name, common.ModeWriteNew); err != nil {
			return 0, err
		}
		header := FileHeader{Magic: common.MagicNumber, Version: common.LogVersion}
		buf, _ := header.MarshalBinary()
		n, err := l.handler.Write(buf)
		if err == nil && n != len(buf) {
			err = common.ErrShortWrite
		}
		if err != nil {
			l.handler.Close()
			return 0, err
		}
	}
	defer l.handler.Close()

	if err := l.handler.SeekToEnd(); err != nil {
		return 0, err
	}
	offset, err := l.handler.Tell()
	if err != nil {
		return 0, err
	}

	header := RecordHeader{
		RecordType:     recordType,
		Length:         uint16(len(payload)),
		Key:            key,
		Status:         common.DefaultRecordStatus,
		InternalStatus: 0,
	}
	head, _ := header.MarshalBinary()
	record := append(head, payload...)

	n, err := l.handler.Write(record)
	if err != nil {
		return 0, err
	}
	if n != len(record) {
		return 0, common.ErrShortWrite
	}
	return offset, nil
}

// ReadRecord reads the record at the given offset into buf. It returns the
// record header and the payload length. If buf cannot hold the payload,
// ErrBufferTooSmall is returned and buf is left untouched.
func (l *LogStore) ReadRecord(offset uint32, buf []byte) (RecordHeader, int, error) {
	var header RecordHeader
	if err := l.handler.Open(l.name, common.ModeRead); err != nil {
		return header, 0, err
	}
	defer l.handler.Close()

	if err := l.handler.Seek(offset); err != nil {
		return header, 0, err
	}

	head := make([]byte, common.RecordHeaderSize)
	n, err := l.handler.Read(head)
	if err != nil {
		return header, 0, err
	}
	if n != common.RecordHeaderSize {
		return header, 0, common.ErrShortRead
	}
	if err := header.UnmarshalBinary(head); err != nil {
		return header, 0, err
	}

	if int(header.Length) > len(buf) {
		return header, 0, common.ErrBufferTooSmall
	}
	n, err = l.handler.Read(buf[:header.Length])
	if err != nil {
		return header, 0, err
	}
	if n != int(header.Length) {
		return header, 0, common.ErrShortRead
	}
	return header, int(header.Length), nil
}

// PatchStatus rewrites the single user-status byte of the record at offset.
func (l *LogStore) PatchStatus(offset uint32, status uint8) error {
	return l.patchByte(offset+common.StatusFieldOffset, status)
}

// PatchInternalStatus rewrites the single internal-status byte of the record
// at offset.
func (l *LogStore) PatchInternalStatus(offset uint32, internalStatus uint8) error {
	return l.patchByte(offset+common.InternalStatusFieldOffset, internalStatus)
}

func (l *LogStore) patchByte(offset uint32, value uint8) error {
	if err := l.handler.Open(l.name, common.ModeReadWrite); err != nil {
		return err
	}
	defer l.handler.Close()

	if err := l.handler.Seek(offset); err != nil {
		return err
	}
	n, err := l.handler.Write([]byte{value})
	if err != nil {
		return err
	}
	if n != 1 {
		return common.ErrShortWrite
	}
	return nil
}
