// Package manifest implements the database manifest: a length-prefixed
// format key, optionally followed by a 16-byte endianness signature, read
// and validated before a database is opened. The key is a string rather
// than a version number because the two on-disk formats are distinguished,
// not evolved.
package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Sopel97/chess-pos-db-sub001/dberrors"
	"github.com/Sopel97/chess-pos-db-sub001/iofile"
)

// ValidationResult is the outcome of validating a manifest.
type ValidationResult int

const (
	Ok ValidationResult = iota
	KeyMismatch
	EndiannessMismatch
	InvalidManifest
)

func (r ValidationResult) String() string {
	switch r {
	case Ok:
		return "ok"
	case KeyMismatch:
		return "key mismatch"
	case EndiannessMismatch:
		return "endianness mismatch"
	default:
		return "invalid manifest"
	}
}

// signatureSize is the byte width of the endianness signature: a u64, u32,
// u16, u8, and one padding byte.
const signatureSize = 8 + 4 + 2 + 1 + 1

// nativeSignature is the fixed magic pattern: distinct field widths so a
// byte-order mismatch on any of them is detectable.
func nativeSignature() [signatureSize]byte {
	var b [signatureSize]byte
	binary.NativeEndian.PutUint64(b[0:8], 0x0011223344556677)
	binary.NativeEndian.PutUint32(b[8:12], 0x8899AABB)
	binary.NativeEndian.PutUint16(b[12:14], 0xCCDD)
	b[14] = 0xEE
	b[15] = 0
	return b
}

// Write creates (truncating) the manifest at path with formatKey and,
// if withEndianness, the native EndiannessSignature appended.
func Write(pools *iofile.Pools, path string, formatKey string, withEndianness bool) error {
	if len(formatKey) > 255 {
		return fmt.Errorf("manifest: format key %q exceeds 255 bytes", formatKey)
	}
	out, err := iofile.CreateOutput(pools, path)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, 1+len(formatKey)+signatureSize)
	buf = append(buf, byte(len(formatKey)))
	buf = append(buf, formatKey...)
	if withEndianness {
		sig := nativeSignature()
		buf = append(buf, sig[:]...)
	}
	if _, err := out.Append(buf); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Validate reads the manifest at path and checks it against expectedKey
// and requireEndianness.
func Validate(pools *iofile.Pools, path string, expectedKey string, requireEndianness bool) (ValidationResult, error) {
	f, err := iofile.OpenImmutable(pools, path)
	if err != nil {
		return InvalidManifest, err
	}
	defer f.Close()

	size := f.Size()
	if size < 1 {
		return InvalidManifest, nil
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return InvalidManifest, nil
	}

	keyLen := int(buf[0])
	if len(buf) < 1+keyLen {
		return InvalidManifest, nil
	}
	key := string(buf[1 : 1+keyLen])
	rest := buf[1+keyLen:]

	if key != expectedKey {
		return KeyMismatch, nil
	}

	if !requireEndianness {
		return Ok, nil
	}
	if len(rest) < signatureSize {
		return InvalidManifest, nil
	}
	want := nativeSignature()
	if !bytes.Equal(rest[:signatureSize], want[:]) {
		return EndiannessMismatch, nil
	}
	return Ok, nil
}

// ErrFor translates a ValidationResult into the corresponding dberrors
// sentinel, for callers (db.Open) that must fail outright rather than just
// report the result.
func ErrFor(r ValidationResult) error {
	switch r {
	case Ok:
		return nil
	case KeyMismatch:
		return dberrors.ErrManifestKeyMismatch
	case EndiannessMismatch:
		return dberrors.ErrManifestEndiannessMismatch
	default:
		return dberrors.ErrInvalidManifest
	}
}

// ReadKey returns the format key stored in the manifest at path without
// checking it against any expectation; InvalidManifest-shaped files fail.
func ReadKey(pools *iofile.Pools, path string) (string, error) {
	f, err := iofile.OpenImmutable(pools, path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	size := f.Size()
	if size < 1 {
		return "", dberrors.ErrInvalidManifest
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return "", err
	}
	keyLen := int(buf[0])
	if len(buf) < 1+keyLen {
		return "", dberrors.ErrInvalidManifest
	}
	return string(buf[1 : 1+keyLen]), nil
}
