package ondisk

import (
	"encoding/binary"
	"fmt"
)

// DirFileType is the tiny file-type tag carried alongside a directory
// entry's inode id, grounded on the teacher's directoryEntry.fileType.
type DirFileType uint8

const (
	DirTypeUnknown   DirFileType = 0
	DirTypeRegular   DirFileType = 1
	DirTypeDirectory DirFileType = 2
	DirTypeSymlink   DirFileType = 3
)

const (
	dirEntryHeaderLen = 8 // recLen(2) + nameLen(1) + fileType(1) + inode(4)
	// MinDirEntryLength is the fixed header length; ParseDirectoryBlock treats a
	// smaller record length as the start of unused slack. The smallest record
	// ToBytes writes is 12 bytes (header plus the high inode word).
	MinDirEntryLength = dirEntryHeaderLen
	// MaxNameLength bounds a directory entry's name, matching ext-family practice.
	MaxNameLength = 255
)

// DirectoryEntry is one variable-length record packed into a directory data
// block (spec §3). Records never cross block boundaries.
type DirectoryEntry struct {
	Inode    uint64
	FileType DirFileType
	Name     string
}

// RecordLength returns the on-disk length of e, rounded up to a multiple of
// 4 bytes: the 8-byte header (whose inode field holds the low 32 bits of the
// 64-bit inode id), 4 more bytes holding the high 32 bits, then the name.
func (e *DirectoryEntry) RecordLength() uint16 {
	raw := dirEntryHeaderLen + 4 /* inode high 32 bits */ + len(e.Name)
	if rem := raw % 4; rem != 0 {
		raw += 4 - rem
	}
	return uint16(raw)
}

// DirectoryEntryFromBytes parses one record from b, which must be at least
// RecordLength() bytes (the caller slices it out of a directory block).
func DirectoryEntryFromBytes(b []byte) (*DirectoryEntry, error) {
	if len(b) < dirEntryHeaderLen+4 {
		return nil, fmt.Errorf("directory entry of length %d is smaller than minimum %d", len(b), dirEntryHeaderLen+4)
	}
	recLen := binary.LittleEndian.Uint16(b[0x00:0x02])
	nameLen := b[0x02]
	fileType := DirFileType(b[0x03])
	inodeLow := binary.LittleEndian.Uint32(b[0x04:0x08])
	inodeHigh := binary.LittleEndian.Uint32(b[0x08:0x0C])
	inode := uint64(inodeHigh)<<32 | uint64(inodeLow)

	if int(recLen) > len(b) {
		return nil, fmt.Errorf("directory entry declares length %d beyond buffer of %d bytes", recLen, len(b))
	}
	nameEnd := dirEntryHeaderLen + 4 + int(nameLen)
	if nameEnd > len(b) {
		return nil, fmt.Errorf("directory entry name of length %d overruns buffer", nameLen)
	}
	name := string(b[dirEntryHeaderLen+4 : nameEnd])

	return &DirectoryEntry{Inode: inode, FileType: fileType, Name: name}, nil
}

// ToBytes serializes e, zero-padded up to RecordLength().
func (e *DirectoryEntry) ToBytes() ([]byte, error) {
	if len(e.Name) > MaxNameLength {
		return nil, fmt.Errorf("directory entry name %q exceeds max length %d", e.Name, MaxNameLength)
	}
	recLen := e.RecordLength()
	b := make([]byte, recLen)
	binary.LittleEndian.PutUint16(b[0x00:0x02], recLen)
	b[0x02] = byte(len(e.Name))
	b[0x03] = byte(e.FileType)
	binary.LittleEndian.PutUint32(b[0x04:0x08], uint32(e.Inode))
	binary.LittleEndian.PutUint32(b[0x08:0x0C], uint32(e.Inode>>32))
	copy(b[dirEntryHeaderLen+4:], e.Name)
	return b, nil
}

// ParseDirectoryBlock walks a full directory data block and returns its
// live entries, skipping tombstoned (inode == 0) slack left by deletes.
func ParseDirectoryBlock(b []byte) ([]*DirectoryEntry, error) {
	var entries []*DirectoryEntry
	i := 0
	for i+dirEntryHeaderLen+4 <= len(b) {
		recLen := binary.LittleEndian.Uint16(b[i+0x00 : i+0x02])
		if recLen < MinDirEntryLength {
			break // remainder of the block is unused slack
		}
		if i+int(recLen) > len(b) {
			return nil, fmt.Errorf("directory entry at offset %d declares length %d beyond block", i, recLen)
		}
		de, err := DirectoryEntryFromBytes(b[i : i+int(recLen)])
		if err != nil {
			return nil, fmt.Errorf("parsing directory entry at offset %d: %w", i, err)
		}
		if de.Inode != 0 {
			entries = append(entries, de)
		}
		i += int(recLen)
	}
	return entries, nil
}

// WriteDirectoryBlock packs entries into a zero-padded block of blockSize
// bytes, coalescing no slack of its own (callers that delete in place are
// responsible for re-packing via this function so slack is coalesced).
func WriteDirectoryBlock(entries []*DirectoryEntry, blockSize int) ([]byte, error) {
	b := make([]byte, 0, blockSize)
	for _, e := range entries {
		eb, err := e.ToBytes()
		if err != nil {
			return nil, err
		}
		if len(b)+len(eb) > blockSize {
			return nil, fmt.Errorf("directory entries overflow block of size %d", blockSize)
		}
		b = append(b, eb...)
	}
	if len(b) > blockSize {
		return nil, fmt.Errorf("packed directory entries (%d bytes) exceed block size %d", len(b), blockSize)
	}
	padded := make([]byte, blockSize)
	copy(padded, b)
	return padded, nil
}
