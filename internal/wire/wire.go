// Package wire holds the canonical binary envelope and the field codec shared by
// proofs and JoinSplits.
//
// Every object is framed as
//
//	magic(4) | version(1) | kind(1) | body length(4, big endian) | body
//
// Group elements are 48-byte compressed points, scalars are 32-byte canonical
// big-endian field elements, and integers are big endian.
package wire

import (
	"encoding/binary"
	"fmt"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"anonpay/internal/commitment"
	"anonpay/internal/errs"
	"anonpay/internal/params"
)

// Magic opens every envelope.
const Magic = "APAY"

// HeaderSize is the length of the envelope header.
const HeaderSize = len(Magic) + 1 + 1 + 4

// MaxBodySize bounds the body of any envelope.
const MaxBodySize = 1 << 24

// Kind identifies the object carried by an envelope.
type Kind byte

const (
	KindProof     Kind = 1
	KindJoinSplit Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindProof:
		return "proof"
	case KindJoinSplit:
		return "joinsplit"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Seal frames body as an envelope of the given kind.
func Seal(kind Kind, body []byte) []byte {
	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, Magic...)
	out = append(out, params.Version, byte(kind))
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...)
}

// Open checks the envelope header and returns the body. The body length must match
// the remaining bytes exactly.
func Open(b []byte, kind Kind) ([]byte, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%s envelope: %w: %d bytes", kind, errs.ErrFormat, len(b))
	}
	if string(b[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("%s envelope: %w: bad magic", kind, errs.ErrFormat)
	}
	if v := b[len(Magic)]; v != params.Version {
		return nil, fmt.Errorf("%s envelope: %w: version %d", kind, errs.ErrFormat, v)
	}
	if k := Kind(b[len(Magic)+1]); k != kind {
		return nil, fmt.Errorf("%s envelope: %w: got %s", kind, errs.ErrFormat, k)
	}
	n := binary.BigEndian.Uint32(b[len(Magic)+2:])
	if n > MaxBodySize || int(n) != len(b)-HeaderSize {
		return nil, fmt.Errorf("%s envelope: %w: body length %d, have %d", kind, errs.ErrFormat, n, len(b)-HeaderSize)
	}
	return b[HeaderSize:], nil
}

// Writer appends fields to a body.
type Writer struct {
	buf []byte
}

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) U64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) Point(p *bls12377.G1Affine) {
	b := p.Bytes()
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) Points(ps []bls12377.G1Affine) {
	for i := range ps {
		w.Point(&ps[i])
	}
}

func (w *Writer) Commitment(c commitment.Commitment) {
	b := c.Bytes()
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) Scalar(s *fr.Element) {
	b := s.Bytes()
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) Scalars(ss []fr.Element) {
	for i := range ss {
		w.Scalar(&ss[i])
	}
}

// Bytes returns the body written so far.
func (w *Writer) Bytes() []byte { return w.buf }

// Reader consumes fields from a body. The first failure sticks: later reads return
// zero values and Err reports the original error.
type Reader struct {
	b   []byte
	err error
}

// NewReader returns a reader over body.
func NewReader(body []byte) *Reader {
	return &Reader{b: body}
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Failf records an ErrFormat failure unless an earlier error is already recorded.
func (r *Reader) Failf(format string, args ...any) {
	r.fail(fmt.Errorf("%w: "+format, append([]any{errs.ErrFormat}, args...)...))
}

func (r *Reader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.b) {
		r.fail(fmt.Errorf("%w: truncated %s", errs.ErrFormat, what))
		return nil
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out
}

func (r *Reader) U8() uint8 {
	b := r.take(1, "u8")
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U64() uint64 {
	b := r.take(8, "u64")
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Raw returns the next n bytes.
func (r *Reader) Raw(n int) []byte {
	return r.take(n, "bytes")
}

// Count reads a one-byte count and checks it lies in [lo, hi] and that at least
// count·minItem bytes remain, before the caller allocates anything.
func (r *Reader) Count(lo, hi, minItem int, what string) int {
	n := int(r.U8())
	if r.err != nil {
		return 0
	}
	if n < lo || n > hi {
		r.fail(fmt.Errorf("%w: %s count %d outside [%d, %d]", errs.ErrFormat, what, n, lo, hi))
		return 0
	}
	if n*minItem > len(r.b) {
		r.fail(fmt.Errorf("%w: truncated %s", errs.ErrFormat, what))
		return 0
	}
	return n
}

func (r *Reader) Point() bls12377.G1Affine {
	b := r.take(commitment.Size, "point")
	if b == nil {
		return bls12377.G1Affine{}
	}
	p, err := commitment.DecodePoint(b)
	if err != nil {
		r.fail(err)
	}
	return p
}

func (r *Reader) Points(n int) []bls12377.G1Affine {
	out := make([]bls12377.G1Affine, n)
	for i := range out {
		out[i] = r.Point()
	}
	return out
}

func (r *Reader) Commitment() commitment.Commitment {
	return commitment.FromPoint(r.Point())
}

func (r *Reader) Scalar() fr.Element {
	var s fr.Element
	b := r.take(fr.Bytes, "scalar")
	if b == nil {
		return s
	}
	if err := s.SetBytesCanonical(b); err != nil {
		r.fail(fmt.Errorf("%w: non-canonical scalar", errs.ErrFormat))
	}
	return s
}

func (r *Reader) Scalars(n int) []fr.Element {
	out := make([]fr.Element, n)
	for i := range out {
		out[i] = r.Scalar()
	}
	return out
}

// Err returns the first error encountered.
func (r *Reader) Err() error { return r.err }

// Finish returns the first error, or ErrFormat when bytes remain unread.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if len(r.b) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", errs.ErrFormat, len(r.b))
	}
	return nil
}
