/*
File Name:  Schnorr.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

BIP-340 Schnorr signatures over secp256k1. Used to sign relay events. Public
keys are x-only (32 bytes), signatures are R.x || s (64 bytes). The nonce and
challenge use the BIP-340 tagged hashes.
*/

package dmcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
)

// SchnorrSignatureSize is the size of a BIP-340 signature.
const SchnorrSignatureSize = 64

// ErrSignFailed is returned when the private key or derived nonce is unusable.
var ErrSignFailed = errors.New("schnorr sign failed")

// taggedHash is SHA256(SHA256(tag) || SHA256(tag) || data...).
func taggedHash(tag string, chunks ...[]byte) []byte {
	tagDigest := sha256.Sum256([]byte(tag))

	h := sha256.New()
	h.Write(tagDigest[:])
	h.Write(tagDigest[:])
	for _, chunk := range chunks {
		h.Write(chunk)
	}
	return h.Sum(nil)
}

func bytes32(v *big.Int) []byte {
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}

// SchnorrSign signs a message (usually a 32-byte digest) per BIP-340.
func SchnorrSign(privateKey []byte, message []byte) (signature []byte, err error) {
	curve := btcec.S256()

	d := new(big.Int).SetBytes(privateKey)
	if d.Sign() == 0 || d.Cmp(curve.N) >= 0 {
		return nil, ErrSignFailed
	}

	px, py := curve.ScalarBaseMult(d.Bytes())
	if py.Bit(0) == 1 { // even-y convention for the signing key
		d.Sub(curve.N, d)
	}
	pxBytes := bytes32(px)

	aux := make([]byte, 32)
	if _, err = rand.Read(aux); err != nil {
		return nil, err
	}

	t := new(big.Int).Xor(d, new(big.Int).SetBytes(taggedHash("BIP0340/aux", aux)))

	k := new(big.Int).SetBytes(taggedHash("BIP0340/nonce", bytes32(t), pxBytes, message))
	k.Mod(k, curve.N)
	if k.Sign() == 0 {
		return nil, ErrSignFailed
	}

	rx, ry := curve.ScalarBaseMult(k.Bytes())
	if ry.Bit(0) == 1 { // nonce point must have even y
		k.Sub(curve.N, k)
	}
	rxBytes := bytes32(rx)

	e := new(big.Int).SetBytes(taggedHash("BIP0340/challenge", rxBytes, pxBytes, message))
	e.Mod(e, curve.N)

	s := new(big.Int).Mul(e, d)
	s.Add(s, k)
	s.Mod(s, curve.N)

	signature = make([]byte, SchnorrSignatureSize)
	copy(signature[0:32], rxBytes)
	copy(signature[32:64], bytes32(s))
	return signature, nil
}

// SchnorrVerify checks a BIP-340 signature against an x-only public key.
// Verification computes R = s*G - e*P and checks for even y and matching x.
func SchnorrVerify(publicX []byte, message []byte, signature []byte) bool {
	if len(publicX) != 32 || len(signature) != SchnorrSignatureSize {
		return false
	}

	curve := btcec.S256()

	px, py, err := liftX(new(big.Int).SetBytes(publicX))
	if err != nil {
		return false
	}

	r := new(big.Int).SetBytes(signature[0:32])
	s := new(big.Int).SetBytes(signature[32:64])
	if r.Cmp(curve.P) >= 0 || s.Cmp(curve.N) >= 0 {
		return false
	}

	e := new(big.Int).SetBytes(taggedHash("BIP0340/challenge", signature[0:32], publicX, message))
	e.Mod(e, curve.N)

	// R = s*G - e*P computed as s*G + (n-e)*P
	sgx, sgy := curve.ScalarBaseMult(s.Bytes())
	negE := new(big.Int).Sub(curve.N, e)
	epx, epy := curve.ScalarMult(px, py, negE.Bytes())
	rx, ry := curve.Add(sgx, sgy, epx, epy)

	if rx.Sign() == 0 && ry.Sign() == 0 { // point at infinity
		return false
	}
	if ry.Bit(0) == 1 {
		return false
	}
	return rx.Cmp(r) == 0
}
