package ir

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic identifies an IR image blob; Version lets the loader refuse a
// blob compiled by an incompatible compiler revision before it even
// looks at the certificate.
var Magic = [4]byte{'Y', 'W', 'L', 'A'}

const CurrentVersion uint32 = 1

// headerSize is the fixed-size prefix: magic, version, sigma_hash,
// then eight (offset,len) uint32 pairs, one per section, in on-disk
// order.
const headerSize = 4 + 4 + 32 + 8*8

// binWriter accumulates a binary section the way kv_store.go's
// marshalBlock builds up a block buffer by hand: explicit
// little-endian writes, length-prefixed variable fields.
type binWriter struct{ buf []byte }

func (w *binWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *binWriter) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *binWriter) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *binWriter) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *binWriter) i64(v int64)  { w.u64(uint64(v)) }
func (w *binWriter) raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *binWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.raw(b)
}

func (w *binWriter) str(s string) { w.bytes([]byte(s)) }

func (w *binWriter) strList(ss []string) {
	w.u32(uint32(len(ss)))
	for _, s := range ss {
		w.str(s)
	}
}

type binReader struct {
	buf []byte
	pos int
}

func (r *binReader) u8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, errTruncated
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *binReader) u16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, errTruncated
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *binReader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, errTruncated
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *binReader) u64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, errTruncated
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *binReader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *binReader) raw(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, errTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *binReader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	return r.raw(int(n))
}

func (r *binReader) str() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *binReader) strList() ([]string, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		out[i], err = r.str()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

var errTruncated = errors.New("ir: truncated image")

type section struct {
	offset, length uint32
}

// Marshal serializes img into the cache-aligned binary layout §6
// names: fixed header (magic, version, sigma_hash, section offsets),
// interner blob, node array, edge arrays, pattern table, guard
// bytecode blob, timer descriptor array, certificate blob. All
// integers little-endian; all offsets are byte offsets from the
// start of the image.
func (img *Image) Marshal() ([]byte, error) {
	interner := marshalInterner(img.Strings)
	nodes := marshalNodes(img.Nodes)
	predBlob, succBlob := marshalEdges(img.Edges)
	patterns := marshalPatterns(&img.Patterns)
	guards := marshalGuards(img.Guards)
	timers := marshalTimers(img.Timers)
	cert := marshalCertificate(&img.Cert)

	sections := [][]byte{interner, nodes, predBlob, succBlob, patterns, guards, timers, cert}
	var secs [8]section
	offset := uint32(headerSize)
	for i, s := range sections {
		secs[i] = section{offset: offset, length: uint32(len(s))}
		offset += uint32(len(s))
	}

	var hdr binWriter
	hdr.raw(Magic[:])
	hdr.u32(CurrentVersion)
	hdr.raw(img.SigmaHash[:])
	for _, s := range secs {
		hdr.u32(s.offset)
		hdr.u32(s.length)
	}

	out := make([]byte, 0, int(offset))
	out = append(out, hdr.buf...)
	for _, s := range sections {
		out = append(out, s...)
	}
	return out, nil
}

// Unmarshal parses a blob produced by Marshal back into an Image.
func Unmarshal(data []byte) (*Image, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("ir: blob too small for header (%d bytes)", len(data))
	}
	r := &binReader{buf: data}
	magic, err := r.raw(4)
	if err != nil {
		return nil, err
	}
	if string(magic) != string(Magic[:]) {
		return nil, fmt.Errorf("ir: bad magic %q", magic)
	}
	version, err := r.u32()
	if err != nil {
		return nil, err
	}
	if version != CurrentVersion {
		return nil, fmt.Errorf("ir: unsupported image version %d", version)
	}
	var sigmaHash [32]byte
	sh, err := r.raw(32)
	if err != nil {
		return nil, err
	}
	copy(sigmaHash[:], sh)

	var secs [8]section
	for i := range secs {
		off, err := r.u32()
		if err != nil {
			return nil, err
		}
		ln, err := r.u32()
		if err != nil {
			return nil, err
		}
		secs[i] = section{offset: off, length: ln}
	}

	section := func(i int) ([]byte, error) {
		s := secs[i]
		if int(s.offset+s.length) > len(data) {
			return nil, fmt.Errorf("ir: section %d out of bounds", i)
		}
		return data[s.offset : s.offset+s.length], nil
	}

	img := &Image{SigmaHash: sigmaHash}

	b, err := section(0)
	if err != nil {
		return nil, err
	}
	if img.Strings, err = unmarshalInterner(b); err != nil {
		return nil, err
	}

	if b, err = section(1); err != nil {
		return nil, err
	}
	if img.Nodes, err = unmarshalNodes(b); err != nil {
		return nil, err
	}

	predB, err := section(2)
	if err != nil {
		return nil, err
	}
	succB, err := section(3)
	if err != nil {
		return nil, err
	}
	if img.Edges, err = unmarshalEdges(predB, succB); err != nil {
		return nil, err
	}

	if b, err = section(4); err != nil {
		return nil, err
	}
	if img.Patterns, err = unmarshalPatterns(b); err != nil {
		return nil, err
	}

	if b, err = section(5); err != nil {
		return nil, err
	}
	if img.Guards, err = unmarshalGuards(b); err != nil {
		return nil, err
	}

	if b, err = section(6); err != nil {
		return nil, err
	}
	if img.Timers, err = unmarshalTimers(b); err != nil {
		return nil, err
	}

	if b, err = section(7); err != nil {
		return nil, err
	}
	cert, err := unmarshalCertificate(b)
	if err != nil {
		return nil, err
	}
	img.Cert = *cert

	return img, nil
}
