// Package crc implements the path checksum used as the lookup key into the
// pack catalog. It is an MSB-first CRC-32 over the normalized path bytes and
// is not cryptographic.
package crc

const (
	crcPoly uint32 = 0x04C11DB7
	crcInit uint32 = 0xFFFFFFFF
	crcFXOR uint32 = 0x00000000
)

func update(crc uint32, b byte) uint32 {
	crc ^= uint32(b) << 24 // move byte to MSB
	for i := 0; i < 8; i++ {
		if crc&0x80000000 == 0 {
			crc <<= 1
		} else {
			crc = (crc << 1) ^ crcPoly
		}
	}
	return crc
}

// Checksum computes the pack-catalog checksum of a file path.
//
// Each byte is normalized before mixing: forward slashes become backslashes
// and ASCII uppercase becomes lowercase, so paths that differ only in slash
// direction or letter case collide. Four trailing zero bytes are mixed in
// after the path; the catalog's own checksums include them, so they must not
// be omitted.
func Checksum(path []byte) uint32 {
	crc := crcInit
	for _, b := range path {
		if b == '/' {
			b = '\\'
		}
		if b >= 'A' && b <= 'Z' {
			b += 'a' - 'A'
		}
		crc = update(crc, b)
	}
	for i := 0; i < 4; i++ {
		crc = update(crc, 0)
	}
	return crc ^ crcFXOR
}

// ChecksumString is Checksum over the raw bytes of s.
func ChecksumString(s string) uint32 {
	return Checksum([]byte(s))
}
