package pack

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

type testRecord struct {
	crc       uint32
	packIndex uint32
	category  uint32
}

func encodeIndex(t *testing.T, version uint32, archives []string, records []testRecord) []byte {
	t.Helper()
	var buf bytes.Buffer
	write := func(v any) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("binary.Write: %v", err)
		}
	}
	write(version)
	write(uint32(len(archives)))
	for _, a := range archives {
		write(uint32(len(a)))
		buf.WriteString(a)
	}
	write(uint32(len(records)))
	for _, r := range records {
		write(r.crc)
		write(uint32(0)) // left
		write(uint32(0)) // right
		write(r.packIndex)
		write(r.category)
	}
	return buf.Bytes()
}

func TestParseIndex(t *testing.T) {
	data := encodeIndex(t, Version,
		[]string{"client\\res\\pack\\front.pk", "client\\res\\pack\\world.pk"},
		[]testRecord{
			{crc: 0x082241DD, packIndex: 1, category: 2},
			{crc: 0xC8DEC91D, packIndex: 0, category: 0},
		},
	)

	idx, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(idx.Archives) != 2 || idx.Archives[1].Path != "client\\res\\pack\\world.pk" {
		t.Fatalf("unexpected archives: %+v", idx.Archives)
	}
	if idx.Len() != 2 {
		t.Fatalf("expected 2 file records, got %d", idx.Len())
	}

	ref, ok := idx.Lookup(0x082241DD)
	if !ok {
		t.Fatalf("record for 0x082241DD not found")
	}
	if ref.PackIndex != 1 || ref.Category != 2 {
		t.Fatalf("unexpected record: %+v", ref)
	}

	if _, ok := idx.Lookup(0xDEADBEEF); ok {
		t.Fatalf("lookup of absent checksum succeeded")
	}
}

func TestParseIndexErrors(t *testing.T) {
	valid := encodeIndex(t, Version, []string{"a.pk"}, []testRecord{{crc: 1}})

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad version", encodeIndex(t, 7, nil, nil)},
		{"truncated", valid[:len(valid)-4]},
		{"archive out of range", encodeIndex(t, Version, []string{"a.pk"}, []testRecord{{crc: 1, packIndex: 3}})},
	}
	for _, tc := range cases {
		if _, err := Parse(bytes.NewReader(tc.data)); err == nil {
			t.Fatalf("%s: Parse succeeded on malformed input", tc.name)
		}
	}
}

func TestLoadMissingCatalog(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "primary.pki"))
	if err != nil {
		t.Fatalf("Load of missing catalog: %v", err)
	}
	if idx.Len() != 0 || len(idx.Archives) != 0 {
		t.Fatalf("expected empty index, got %+v", idx)
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "primary.pki")
	data := encodeIndex(t, Version, []string{"a.pk"}, []testRecord{{crc: 42, packIndex: 0, category: 1}})
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	idx, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := idx.Lookup(42); !ok {
		t.Fatalf("record for 42 not found after Load")
	}
}
