// Package manifest parses the two-section text manifests served by the
// patch server:
//
//	[version]
//	<version>,<hash>,<name>
//	[files]
//	<path>,<size>,<hash>,<compressed-size>,<compressed-hash>
//
// A manifest is the authoritative remote state for one file set and is
// read-only after parsing.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"patchsync/internal/core/types"
)

// VersionLine is the header of a manifest.
type VersionLine struct {
	Version uint32
	Hash    types.Digest
	Name    string
}

// FileLine is one file entry of a manifest.
type FileLine struct {
	// Size and Hash describe the uncompressed file.
	Size uint32
	Hash types.Digest
	// CompressedSize and CompressedHash describe the segmented-stream blob
	// stored on the patch server.
	CompressedSize uint32
	CompressedHash types.Digest
}

// ToPath returns the URL suffix of the file's blob on the patch server. The
// server shards blobs by the leading hex characters of the content hash.
func (f FileLine) ToPath() string {
	h := f.Hash.String()
	return fmt.Sprintf("%s/%s/%s.sd0", h[:1], h[:2], h)
}

// Manifest is an ordered mapping from file path to FileLine.
type Manifest struct {
	Version VersionLine
	files   map[string]FileLine
}

// Get returns the entry for a path.
func (m *Manifest) Get(path string) (FileLine, bool) {
	f, ok := m.files[path]
	return f, ok
}

// Len returns the number of file entries.
func (m *Manifest) Len() int {
	return len(m.files)
}

// Paths returns all file paths in key order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.files))
	for path := range m.files {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

// Parse reads a manifest from r. Missing or malformed headers and
// unparseable file lines are errors.
func Parse(r io.Reader) (*Manifest, error) {
	scanner := bufio.NewScanner(r)

	if err := expectHeader(scanner, "[version]"); err != nil {
		return nil, err
	}
	line, err := nextLine(scanner, "version line")
	if err != nil {
		return nil, err
	}
	version, err := parseVersionLine(line)
	if err != nil {
		return nil, err
	}

	if err := expectHeader(scanner, "[files]"); err != nil {
		return nil, err
	}
	files := make(map[string]FileLine)
	for scanner.Scan() {
		path, f, err := parseFileLine(scanner.Text())
		if err != nil {
			return nil, err
		}
		files[path] = f
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return &Manifest{Version: version, files: files}, nil
}

func nextLine(scanner *bufio.Scanner, what string) (string, error) {
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read manifest: %w", err)
		}
		return "", fmt.Errorf("missing %s", what)
	}
	return scanner.Text(), nil
}

func expectHeader(scanner *bufio.Scanner, header string) error {
	line, err := nextLine(scanner, fmt.Sprintf("%q header", header))
	if err != nil {
		return err
	}
	if line != header {
		return fmt.Errorf("expected %q header, got %q", header, line)
	}
	return nil
}

func parseVersionLine(line string) (VersionLine, error) {
	parts := strings.SplitN(line, ",", 3)
	if len(parts) != 3 {
		return VersionLine{}, fmt.Errorf("invalid version line %q: want 3 fields, got %d", line, len(parts))
	}
	version, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return VersionLine{}, fmt.Errorf("invalid version line %q: %w", line, err)
	}
	hash, err := types.ParseDigest(parts[1])
	if err != nil {
		return VersionLine{}, fmt.Errorf("invalid version line %q: %w", line, err)
	}
	return VersionLine{Version: uint32(version), Hash: hash, Name: parts[2]}, nil
}

func parseFileLine(line string) (string, FileLine, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 5 {
		return "", FileLine{}, fmt.Errorf("invalid file line %q: want 5 fields, got %d", line, len(parts))
	}
	path := parts[0]
	if path == "" {
		return "", FileLine{}, fmt.Errorf("invalid file line %q: empty path", line)
	}
	size, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return "", FileLine{}, fmt.Errorf("invalid file line %q: %w", line, err)
	}
	hash, err := types.ParseDigest(parts[2])
	if err != nil {
		return "", FileLine{}, fmt.Errorf("invalid file line %q: %w", line, err)
	}
	compressedSize, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return "", FileLine{}, fmt.Errorf("invalid file line %q: %w", line, err)
	}
	compressedHash, err := types.ParseDigest(parts[4])
	if err != nil {
		return "", FileLine{}, fmt.Errorf("invalid file line %q: %w", line, err)
	}
	return path, FileLine{
		Size:           uint32(size),
		Hash:           hash,
		CompressedSize: uint32(compressedSize),
		CompressedHash: compressedHash,
	}, nil
}
