/*
File Name:  DM Crypto.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

End-to-end encryption for direct messages carried over the relay network.
The shared secret is the x coordinate of priv * liftX(theirPub) on secp256k1.
The plaintext is AES-256-CBC encrypted with PKCS#7 padding and a random 16-byte
IV; the transport encoding is "base64(ciphertext)?iv=base64(iv)".
*/

package dmcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec"
)

// Errors of the DM crypto layer.
var (
	ErrDecryptFailed = errors.New("decrypt failed")
	ErrInvalidKey    = errors.New("invalid key")
)

// liftX returns the curve point with the given x coordinate and even y.
func liftX(x *big.Int) (px, py *big.Int, err error) {
	curve := btcec.S256()
	if x.Sign() <= 0 || x.Cmp(curve.P) >= 0 {
		return nil, nil, ErrInvalidKey
	}

	// y^2 = x^3 + 7 mod p, solved via the (p+1)/4 exponent (p = 3 mod 4).
	ySquared := new(big.Int).Exp(x, big.NewInt(3), curve.P)
	ySquared.Add(ySquared, big.NewInt(7))
	ySquared.Mod(ySquared, curve.P)

	exponent := new(big.Int).Add(curve.P, big.NewInt(1))
	exponent.Rsh(exponent, 2)
	y := new(big.Int).Exp(ySquared, exponent, curve.P)

	if new(big.Int).Exp(y, big.NewInt(2), curve.P).Cmp(ySquared) != 0 {
		return nil, nil, ErrInvalidKey
	}

	if y.Bit(0) == 1 {
		y.Sub(curve.P, y)
	}

	return x, y, nil
}

// SharedSecret computes the 32-byte ECDH secret between our private key and
// the remote x-only public key.
func SharedSecret(privateKey []byte, theirPublicX []byte) (secret []byte, err error) {
	if len(privateKey) != 32 || len(theirPublicX) != 32 {
		return nil, ErrInvalidKey
	}

	px, py, err := liftX(new(big.Int).SetBytes(theirPublicX))
	if err != nil {
		return nil, err
	}

	curve := btcec.S256()
	d := new(big.Int).SetBytes(privateKey)
	if d.Sign() == 0 || d.Cmp(curve.N) >= 0 {
		return nil, ErrInvalidKey
	}

	sx, _ := curve.ScalarMult(px, py, d.Bytes())

	secret = make([]byte, 32)
	sx.FillBytes(secret)
	return secret, nil
}

// pkcs7Pad pads the data to the AES block size.
func pkcs7Pad(data []byte) []byte {
	padSize := aes.BlockSize - len(data)%aes.BlockSize
	padded := make([]byte, len(data)+padSize)
	copy(padded, data)
	for n := len(data); n < len(padded); n++ {
		padded[n] = byte(padSize)
	}
	return padded
}

// pkcs7Unpad verifies and strips the padding.
func pkcs7Unpad(data []byte) (stripped []byte, err error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, ErrDecryptFailed
	}
	padSize := int(data[len(data)-1])
	if padSize == 0 || padSize > aes.BlockSize || padSize > len(data) {
		return nil, ErrDecryptFailed
	}
	for _, b := range data[len(data)-padSize:] {
		if int(b) != padSize {
			return nil, ErrDecryptFailed
		}
	}
	return data[:len(data)-padSize], nil
}

// Encrypt encrypts a plaintext for the remote peer. The result is the
// transport encoding "base64(ciphertext)?iv=base64(iv)".
func Encrypt(plaintext string, privateKey []byte, theirPublicX []byte) (encoded string, err error) {
	secret, err := SharedSecret(privateKey, theirPublicX)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(secret)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err = rand.Read(iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plaintext))
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// Decrypt reverses Encrypt using our private key and the sender's public key.
func Decrypt(encoded string, privateKey []byte, theirPublicX []byte) (plaintext string, err error) {
	parts := strings.Split(encoded, "?iv=")
	if len(parts) != 2 {
		return "", ErrDecryptFailed
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrDecryptFailed
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(iv) != aes.BlockSize || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", ErrDecryptFailed
	}

	secret, err := SharedSecret(privateKey, theirPublicX)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(secret)
	if err != nil {
		return "", err
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	stripped, err := pkcs7Unpad(padded)
	if err != nil {
		return "", err
	}
	return string(stripped), nil
}

// PublicKeyX returns the x-only public key for a private key.
func PublicKeyX(privateKey []byte) (publicX []byte, err error) {
	if len(privateKey) != 32 {
		return nil, ErrInvalidKey
	}
	d := new(big.Int).SetBytes(privateKey)
	curve := btcec.S256()
	if d.Sign() == 0 || d.Cmp(curve.N) >= 0 {
		return nil, ErrInvalidKey
	}

	px, _ := curve.ScalarBaseMult(d.Bytes())
	publicX = make([]byte, 32)
	px.FillBytes(publicX)
	return publicX, nil
}
