package gpu

import (
	"crypto/sha512"
	"encoding/binary"
	"math/bits"
)

// This file is the reference implementation of the device kernel: the exact
// pipeline each GPU lane executes, expressed in portable Go. Native backends
// must produce byte-identical output; the parity tests in this package hold
// them to it.
//
// Field elements are radix-2^51: five limbs, little-endian, value is
// sum(l[i] << 51*i) mod 2^255-19.

type fieldElement [5]uint64

const maskLow51 = (1 << 51) - 1

var (
	// 2*d, the curve constant used by the extended-coordinate addition formula.
	feD2 = fieldElement{0x69b9426b2f159, 0x35050762add7a, 0x3cf44c0038052, 0x6738cc7407977, 0x2406d9dc56dff}

	// Ed25519 basepoint affine coordinates.
	feBaseX = fieldElement{0x62d608f25d51a, 0x412a4b4f6592a, 0x75b7171a4b31d, 0x1ff60527118fe, 0x216936d3cd6e5}
	feBaseY = fieldElement{0x6666666666658, 0x4cccccccccccc, 0x1999999999999, 0x3333333333333, 0x6666666666666}

	feOne = fieldElement{1, 0, 0, 0, 0}
)

func (v *fieldElement) carryPropagate() {
	c0 := v[0] >> 51
	c1 := v[1] >> 51
	c2 := v[2] >> 51
	c3 := v[3] >> 51
	c4 := v[4] >> 51

	v[0] = v[0]&maskLow51 + c4*19
	v[1] = v[1]&maskLow51 + c0
	v[2] = v[2]&maskLow51 + c1
	v[3] = v[3]&maskLow51 + c2
	v[4] = v[4]&maskLow51 + c3
}

func feAdd(r, a, b *fieldElement) {
	r[0] = a[0] + b[0]
	r[1] = a[1] + b[1]
	r[2] = a[2] + b[2]
	r[3] = a[3] + b[3]
	r[4] = a[4] + b[4]
	r.carryPropagate()
}

// feSub computes a-b, adding 2p first so no limb underflows.
func feSub(r, a, b *fieldElement) {
	r[0] = a[0] + 0xFFFFFFFFFFFDA - b[0]
	r[1] = a[1] + 0xFFFFFFFFFFFFE - b[1]
	r[2] = a[2] + 0xFFFFFFFFFFFFE - b[2]
	r[3] = a[3] + 0xFFFFFFFFFFFFE - b[3]
	r[4] = a[4] + 0xFFFFFFFFFFFFE - b[4]
	r.carryPropagate()
}

// feMul multiplies with full 128-bit accumulation. Products of 51-bit limbs
// do not fit in 64 bits, so each column is summed in (hi, lo) pairs.
func feMul(r, a, b *fieldElement) {
	a0, a1, a2, a3, a4 := a[0], a[1], a[2], a[3], a[4]
	b0, b1, b2, b3, b4 := b[0], b[1], b[2], b[3], b[4]

	// Limbs that wrap past 2^255 pick up a factor of 19.
	a1_19 := a1 * 19
	a2_19 := a2 * 19
	a3_19 := a3 * 19
	a4_19 := a4 * 19

	// r0 = a0*b0 + 19*(a1*b4 + a2*b3 + a3*b2 + a4*b1)
	c0h, c0l := bits.Mul64(a0, b0)
	c0h, c0l = addMul(c0h, c0l, a1_19, b4)
	c0h, c0l = addMul(c0h, c0l, a2_19, b3)
	c0h, c0l = addMul(c0h, c0l, a3_19, b2)
	c0h, c0l = addMul(c0h, c0l, a4_19, b1)

	// r1 = a0*b1 + a1*b0 + 19*(a2*b4 + a3*b3 + a4*b2)
	c1h, c1l := bits.Mul64(a0, b1)
	c1h, c1l = addMul(c1h, c1l, a1, b0)
	c1h, c1l = addMul(c1h, c1l, a2_19, b4)
	c1h, c1l = addMul(c1h, c1l, a3_19, b3)
	c1h, c1l = addMul(c1h, c1l, a4_19, b2)

	// r2 = a0*b2 + a1*b1 + a2*b0 + 19*(a3*b4 + a4*b3)
	c2h, c2l := bits.Mul64(a0, b2)
	c2h, c2l = addMul(c2h, c2l, a1, b1)
	c2h, c2l = addMul(c2h, c2l, a2, b0)
	c2h, c2l = addMul(c2h, c2l, a3_19, b4)
	c2h, c2l = addMul(c2h, c2l, a4_19, b3)

	// r3 = a0*b3 + a1*b2 + a2*b1 + a3*b0 + 19*a4*b4
	c3h, c3l := bits.Mul64(a0, b3)
	c3h, c3l = addMul(c3h, c3l, a1, b2)
	c3h, c3l = addMul(c3h, c3l, a2, b1)
	c3h, c3l = addMul(c3h, c3l, a3, b0)
	c3h, c3l = addMul(c3h, c3l, a4_19, b4)

	// r4 = a0*b4 + a1*b3 + a2*b2 + a3*b1 + a4*b0
	c4h, c4l := bits.Mul64(a0, b4)
	c4h, c4l = addMul(c4h, c4l, a1, b3)
	c4h, c4l = addMul(c4h, c4l, a2, b2)
	c4h, c4l = addMul(c4h, c4l, a3, b1)
	c4h, c4l = addMul(c4h, c4l, a4, b0)

	// Fold the high parts down. Each column is < 2^115, so the shifted carry
	// fits comfortably and one propagation pass suffices afterwards.
	carry0 := c0h<<13 | c0l>>51
	carry1 := c1h<<13 | c1l>>51
	carry2 := c2h<<13 | c2l>>51
	carry3 := c3h<<13 | c3l>>51
	carry4 := c4h<<13 | c4l>>51

	r[0] = c0l&maskLow51 + carry4*19
	r[1] = c1l&maskLow51 + carry0
	r[2] = c2l&maskLow51 + carry1
	r[3] = c3l&maskLow51 + carry2
	r[4] = c4l&maskLow51 + carry3
	r.carryPropagate()
}

func addMul(hi, lo, a, b uint64) (uint64, uint64) {
	h, l := bits.Mul64(a, b)
	lo, c := bits.Add64(lo, l, 0)
	hi, _ = bits.Add64(hi, h, c)
	return hi, lo
}

func feSquare(r, a *fieldElement) {
	feMul(r, a, a)
}

func feSquareN(r, a *fieldElement, n int) {
	feSquare(r, a)
	for i := 1; i < n; i++ {
		feSquare(r, r)
	}
}

// feInvert computes a^-1 = a^(p-2) with the standard addition chain.
func feInvert(r, a *fieldElement) {
	var t0, t1, t2, t3 fieldElement

	feSquare(&t0, a)       // a^2
	feSquareN(&t1, &t0, 2) // a^8
	feMul(&t1, &t1, a)     // a^9
	feMul(&t0, &t0, &t1)   // a^11
	feSquare(&t2, &t0)     // a^22
	feMul(&t1, &t1, &t2)   // a^31 = a^(2^5-1)

	feSquareN(&t2, &t1, 5)
	feMul(&t1, &t2, &t1) // a^(2^10-1)
	feSquareN(&t2, &t1, 10)
	feMul(&t2, &t2, &t1) // a^(2^20-1)
	feSquareN(&t3, &t2, 20)
	feMul(&t2, &t3, &t2) // a^(2^40-1)
	feSquareN(&t2, &t2, 10)
	feMul(&t1, &t2, &t1) // a^(2^50-1)
	feSquareN(&t2, &t1, 50)
	feMul(&t2, &t2, &t1) // a^(2^100-1)
	feSquareN(&t3, &t2, 100)
	feMul(&t2, &t3, &t2) // a^(2^200-1)
	feSquareN(&t2, &t2, 50)
	feMul(&t1, &t2, &t1) // a^(2^250-1)
	feSquareN(&t1, &t1, 5)
	feMul(r, &t1, &t0) // a^(2^255-21)
}

// feToBytes reduces to the canonical representative and writes 32 bytes
// little-endian.
func feToBytes(out *[32]byte, v *fieldElement) {
	t := *v
	t.carryPropagate()
	t.carryPropagate()

	// Compute q = (v + 19) >> 255; adding 19*q folds values in [p, 2p) back
	// into canonical range.
	q := (t[0] + 19) >> 51
	q = (t[1] + q) >> 51
	q = (t[2] + q) >> 51
	q = (t[3] + q) >> 51
	q = (t[4] + q) >> 51

	t[0] += 19 * q
	c := t[0] >> 51
	t[0] &= maskLow51
	t[1] += c
	c = t[1] >> 51
	t[1] &= maskLow51
	t[2] += c
	c = t[2] >> 51
	t[2] &= maskLow51
	t[3] += c
	c = t[3] >> 51
	t[3] &= maskLow51
	t[4] += c
	t[4] &= maskLow51

	binary.LittleEndian.PutUint64(out[0:8], t[0]|t[1]<<51)
	binary.LittleEndian.PutUint64(out[8:16], t[1]>>13|t[2]<<38)
	binary.LittleEndian.PutUint64(out[16:24], t[2]>>26|t[3]<<25)
	var last [8]byte
	binary.LittleEndian.PutUint64(last[:], t[3]>>39|t[4]<<12)
	copy(out[24:], last[:])
}

// projPoint is an extended-coordinate curve point: x = X/Z, y = Y/Z, T = XY/Z.
type projPoint struct {
	x, y, z, t fieldElement
}

func (p *projPoint) setIdentity() {
	p.x = fieldElement{}
	p.y = feOne
	p.z = feOne
	p.t = fieldElement{}
}

func (p *projPoint) setBase() {
	p.x = feBaseX
	p.y = feBaseY
	p.z = feOne
	feMul(&p.t, &feBaseX, &feBaseY)
}

// geAdd is the unified add-2008-hwcd-3 formula; it handles doubling and the
// identity without special cases.
func geAdd(r, p, q *projPoint) {
	var a, b, c, d, e, f, g, h, t0, t1 fieldElement

	feSub(&t0, &p.y, &p.x)
	feSub(&t1, &q.y, &q.x)
	feMul(&a, &t0, &t1)

	feAdd(&t0, &p.y, &p.x)
	feAdd(&t1, &q.y, &q.x)
	feMul(&b, &t0, &t1)

	feMul(&c, &p.t, &q.t)
	feMul(&c, &c, &feD2)

	feMul(&d, &p.z, &q.z)
	feAdd(&d, &d, &d)

	feSub(&e, &b, &a)
	feSub(&f, &d, &c)
	feAdd(&g, &d, &c)
	feAdd(&h, &b, &a)

	feMul(&r.x, &e, &f)
	feMul(&r.y, &g, &h)
	feMul(&r.t, &e, &h)
	feMul(&r.z, &f, &g)
}

// geDouble is dbl-2008-hwcd, cheaper than the unified add for the ladder.
func geDouble(r, p *projPoint) {
	var a, b, c, d, e, f, g, h, t0 fieldElement

	feSquare(&a, &p.x)
	feSquare(&b, &p.y)
	feSquare(&c, &p.z)
	feAdd(&c, &c, &c)
	feSub(&d, &fieldElement{}, &a)

	feAdd(&t0, &p.x, &p.y)
	feSquare(&t0, &t0)
	feSub(&t0, &t0, &a)
	feSub(&e, &t0, &b)

	feAdd(&g, &d, &b)
	feSub(&f, &g, &c)
	feSub(&h, &d, &b)

	feMul(&r.x, &e, &f)
	feMul(&r.y, &g, &h)
	feMul(&r.t, &e, &h)
	feMul(&r.z, &f, &g)
}

// scalarMultBase computes scalar*B with LSB-first double-and-add. The scalar
// is the clamped digest half, consumed bit by bit.
func scalarMultBase(scalar *[32]byte) projPoint {
	var acc, addend projPoint
	acc.setIdentity()
	addend.setBase()

	for i := 0; i < 256; i++ {
		if scalar[i>>3]>>(uint(i)&7)&1 == 1 {
			geAdd(&acc, &acc, &addend)
		}
		geDouble(&addend, &addend)
	}
	return acc
}

// compress produces the 32-byte Ed25519 encoding: the y coordinate with the
// parity of x in the top bit.
func compress(out *[32]byte, p *projPoint) {
	var zinv, x, y fieldElement
	feInvert(&zinv, &p.z)
	feMul(&x, &p.x, &zinv)
	feMul(&y, &p.y, &zinv)

	var xb [32]byte
	feToBytes(&xb, &x)
	feToBytes(out, &y)
	out[31] |= (xb[0] & 1) << 7
}

// Lane seed derivation constants; multiplying the global invocation id by
// large odd numbers decorrelates neighbouring lanes before the generator runs.
const (
	laneMix0 = 2654435761
	laneMix1 = 2246822519
	laneMix2 = 3266489917
	laneMix3 = 668265263
)

// laneSeed expands the batch base state into a unique 32-byte seed for one
// global invocation id using an xorshift128 generator.
func laneSeed(state [4]uint32, gid uint32) [32]byte {
	s0 := state[0] ^ gid*laneMix0
	s1 := state[1] ^ gid*laneMix1
	s2 := state[2] ^ gid*laneMix2
	s3 := state[3] ^ gid*laneMix3

	var seed [32]byte
	for i := 0; i < 8; i++ {
		t := s0 ^ s0<<11
		s0, s1, s2 = s1, s2, s3
		s3 = s3 ^ s3>>19 ^ t ^ t>>8
		binary.LittleEndian.PutUint32(seed[i*4:], s3)
	}
	return seed
}

// kernelDerive runs the full per-lane pipeline: SHA-512, clamp, fixed-base
// scalar multiplication, compression. Output must match keygen.Derive exactly.
func kernelDerive(seed [32]byte) (pub [32]byte, priv [64]byte) {
	digest := sha512.Sum512(seed[:])

	var scalar [32]byte
	copy(scalar[:], digest[:32])
	scalar[0] &= 248
	scalar[31] &= 63
	scalar[31] |= 64

	p := scalarMultBase(&scalar)
	compress(&pub, &p)

	copy(priv[:32], scalar[:])
	copy(priv[32:], digest[32:])
	return pub, priv
}
