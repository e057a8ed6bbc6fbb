package qcx

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	// KeyLen is the AES-128 key size shared with an onboarded device.
	KeyLen = 16
	// IVLen is the length of each side's initial vector. The two vectors
	// are concatenated to form the 16-byte CBC IVs.
	IVLen = 8
)

// DevKey is the well-known development key. It is only consulted when the
// device-key fallback is explicitly enabled.
var DevKey = []byte{
	0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77,
	0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF,
}

var (
	ErrKeySize = errors.New("qcx: AES key must be 16 bytes")
	ErrIVSize  = errors.New("qcx: initial vector must be 8 bytes")
	// ErrCiphertextSize is returned when a data frame payload is not a
	// whole number of AES blocks.
	ErrCiphertextSize = errors.New("qcx: ciphertext not a multiple of the block size")
)

// NewLocalIV draws a fresh 8-byte initial vector for one connection.
func NewLocalIV() ([]byte, error) {
	iv := make([]byte, IVLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("qcx: drawing local iv: %w", err)
	}
	return iv, nil
}

// Session holds the two CBC contexts of an established connection. The
// sending context is seeded with local||remote, the receiving context with
// remote||local, so each side's sender lines up with the peer's receiver.
type Session struct {
	enc cipher.BlockMode
	dec cipher.BlockMode
}

// NewSession derives both directions from the shared key and the exchanged
// initial vectors.
func NewSession(key, localIV, remoteIV []byte) (*Session, error) {
	if len(key) != KeyLen {
		return nil, ErrKeySize
	}
	if len(localIV) != IVLen || len(remoteIV) != IVLen {
		return nil, ErrIVSize
	}
	sendBlock, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	recvBlock, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	sendIV := append(append([]byte{}, localIV...), remoteIV...)
	recvIV := append(append([]byte{}, remoteIV...), localIV...)
	return &Session{
		enc: cipher.NewCBCEncrypter(sendBlock, sendIV),
		dec: cipher.NewCBCDecrypter(recvBlock, recvIV),
	}, nil
}

// Pad right-pads with ASCII spaces to a whole number of AES blocks. The
// devices strip trailing whitespace before JSON decoding, so space padding
// survives the round trip where PKCS#7 would corrupt the document.
func Pad(plain []byte) []byte {
	rem := len(plain) % aes.BlockSize
	if rem == 0 && len(plain) > 0 {
		return plain
	}
	out := make([]byte, len(plain)+aes.BlockSize-rem)
	copy(out, plain)
	for i := len(plain); i < len(out); i++ {
		out[i] = ' '
	}
	return out
}

// Encrypt space-pads the plaintext and encrypts it under the sending
// context.
func (s *Session) Encrypt(plain []byte) []byte {
	padded := Pad(plain)
	ct := make([]byte, len(padded))
	s.enc.CryptBlocks(ct, padded)
	return ct
}

// Decrypt decrypts a data frame payload under the receiving context and
// trims the trailing space padding.
func (s *Session) Decrypt(ct []byte) ([]byte, error) {
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, ErrCiphertextSize
	}
	plain := make([]byte, len(ct))
	s.dec.CryptBlocks(plain, ct)
	return bytes.TrimRight(plain, " \t\r\n\x00"), nil
}
