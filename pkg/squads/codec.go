package squads

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/go-faster/errors"

	"github.com/argus-wallet/argus/pkg/core"
)

type discriminator [8]byte

func instructionDiscriminator(name string) discriminator {
	return sighash("global:" + name)
}

func accountDiscriminator(name string) discriminator {
	return sighash("account:" + name)
}

func sighash(preimage string) discriminator {
	var d discriminator
	h := sha256.Sum256([]byte(preimage))
	copy(d[:], h[:8])
	return d
}

// encoder is a borsh encoder that keeps the first error, so call sites can write a whole layout
// and check once.
type encoder struct {
	buf bytes.Buffer
	enc *bin.Encoder
	err error
}

func newEncoder() *encoder {
	e := &encoder{}
	e.enc = bin.NewBorshEncoder(&e.buf)
	return e
}

func (e *encoder) raw(b []byte) {
	if e.err == nil {
		e.err = e.enc.WriteBytes(b, false)
	}
}

func (e *encoder) u8(v uint8) {
	if e.err == nil {
		e.err = e.enc.WriteUint8(v)
	}
}

func (e *encoder) u16(v uint16) {
	if e.err == nil {
		e.err = e.enc.WriteUint16(v, binary.LittleEndian)
	}
}

func (e *encoder) u32(v uint32) {
	if e.err == nil {
		e.err = e.enc.WriteUint32(v, binary.LittleEndian)
	}
}

func (e *encoder) u64(v uint64) {
	if e.err == nil {
		e.err = e.enc.WriteUint64(v, binary.LittleEndian)
	}
}

func (e *encoder) i64(v int64) {
	e.u64(uint64(v))
}

func (e *encoder) boolean(v bool) {
	if e.err == nil {
		e.err = e.enc.WriteBool(v)
	}
}

func (e *encoder) key(k solana.PublicKey) {
	e.raw(k[:])
}

func (e *encoder) vecU8(b []byte) {
	e.u32(uint32(len(b)))
	e.raw(b)
}

func (e *encoder) keys(keys []solana.PublicKey) {
	e.u32(uint32(len(keys)))
	for _, k := range keys {
		e.key(k)
	}
}

func (e *encoder) optKey(k *solana.PublicKey) {
	if k == nil {
		e.u8(0)
		return
	}
	e.u8(1)
	e.key(*k)
}

func (e *encoder) optString(s *string) {
	if s == nil {
		e.u8(0)
		return
	}
	e.u8(1)
	e.vecU8([]byte(*s))
}

func (e *encoder) bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf.Bytes(), nil
}

// decoder is the reading counterpart of encoder.
type decoder struct {
	dec *bin.Decoder
	err error
}

func newDecoder(data []byte) *decoder {
	return &decoder{dec: bin.NewBorshDecoder(data)}
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) raw(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.dec.Remaining() < n {
		d.fail(errors.Wrapf(core.ErrInvalidAccount, "need %d bytes, %d left", n, d.dec.Remaining()))
		return nil
	}
	b, err := d.dec.ReadNBytes(n)
	if err != nil {
		d.fail(err)
		return nil
	}
	return b
}

func (d *decoder) u8() uint8 {
	b := d.raw(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16() uint16 {
	b := d.raw(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.raw(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.raw(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) i64() int64 {
	return int64(d.u64())
}

func (d *decoder) boolean() bool {
	return d.u8() != 0
}

func (d *decoder) key() solana.PublicKey {
	b := d.raw(32)
	if b == nil {
		return solana.PublicKey{}
	}
	return solana.PublicKeyFromBytes(b)
}

func (d *decoder) vecU8() []byte {
	n := d.u32()
	b := d.raw(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (d *decoder) keys() []solana.PublicKey {
	n := int(d.u32())
	if d.err != nil {
		return nil
	}
	if n*32 > d.dec.Remaining() {
		d.fail(errors.Wrapf(core.ErrInvalidAccount, "vector of %d keys exceeds data", n))
		return nil
	}
	keys := make([]solana.PublicKey, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, d.key())
	}
	return keys
}

func (d *decoder) optKey() *solana.PublicKey {
	if !d.boolean() {
		return nil
	}
	k := d.key()
	return &k
}

func (d *decoder) optString() *string {
	if !d.boolean() {
		return nil
	}
	s := string(d.vecU8())
	return &s
}

func (d *decoder) discriminator(want discriminator) {
	b := d.raw(8)
	if b == nil {
		return
	}
	if !bytes.Equal(b, want[:]) {
		d.fail(errors.Wrap(core.ErrInvalidAccount, "discriminator mismatch"))
	}
}

func (d *decoder) remaining() int {
	return d.dec.Remaining()
}
