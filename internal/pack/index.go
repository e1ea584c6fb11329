// Package pack reads the binary pack catalog (.pki). The catalog maps a path
// checksum to the archive that bundles the file, so files covered by it are
// never fetched individually.
//
// Layout, all integers little-endian u32: a format version, an archive path
// table (length-prefixed strings), then one record per file:
// checksum, left and right tree links, archive index, category.
package pack

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Version is the only catalog format version this client understands.
const Version = 3

// ArchiveRef names one archive of the catalog.
type ArchiveRef struct {
	Path string
}

// FileRef locates a file inside an archive.
type FileRef struct {
	Category  uint32
	PackIndex uint32
}

// Index is the parsed catalog. It is read-only for the lifetime of a run.
type Index struct {
	Archives []ArchiveRef
	files    map[uint32]FileRef
}

// Empty returns a catalog with no archives and no files.
func Empty() *Index {
	return &Index{files: make(map[uint32]FileRef)}
}

// Len returns the number of file records.
func (i *Index) Len() int {
	return len(i.files)
}

// Lookup returns the archive placement for a path checksum.
func (i *Index) Lookup(crc uint32) (FileRef, bool) {
	f, ok := i.files[crc]
	return f, ok
}

// Parse reads a catalog from r.
func Parse(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)

	version, err := readU32(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read pack index version: %w", err)
	}
	if version != Version {
		return nil, fmt.Errorf("unsupported pack index version %d, want %d", version, Version)
	}

	archiveCount, err := readU32(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive count: %w", err)
	}
	archives := make([]ArchiveRef, 0, archiveCount)
	for n := uint32(0); n < archiveCount; n++ {
		path, err := readString(br)
		if err != nil {
			return nil, fmt.Errorf("failed to read archive path %d: %w", n, err)
		}
		archives = append(archives, ArchiveRef{Path: path})
	}

	fileCount, err := readU32(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read file count: %w", err)
	}
	files := make(map[uint32]FileRef, fileCount)
	for n := uint32(0); n < fileCount; n++ {
		var record struct {
			CRC         uint32
			Left, Right uint32
			PackIndex   uint32
			Category    uint32
		}
		if err := binary.Read(br, binary.LittleEndian, &record); err != nil {
			return nil, fmt.Errorf("failed to read file record %d: %w", n, err)
		}
		if record.PackIndex >= archiveCount {
			return nil, fmt.Errorf("file record %d references archive %d of %d", n, record.PackIndex, archiveCount)
		}
		files[record.CRC] = FileRef{Category: record.Category, PackIndex: record.PackIndex}
	}

	return &Index{Archives: archives, files: files}, nil
}

// Load parses the catalog at path. A missing catalog is the valid
// "no archives" state and yields an empty index.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return nil, fmt.Errorf("failed to open pack index %s: %w", path, err)
	}
	defer f.Close()

	idx, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("pack index %s: %w", path, err)
	}
	return idx, nil
}

func readU32(r io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
