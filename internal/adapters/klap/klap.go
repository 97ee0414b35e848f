package klap

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
)

const (
	seqLength       = 4
	signatureLength = 32
	ivPrefixLength  = 12
	sigKeyLength    = 28
)

var errBadSignature = errors.New("klap frame signature mismatch")

// klapCodec frames every message as seq(4) || sha256(sig||seq||ct) || ct,
// where ct is AES-128-CBC under an IV built from the seed IV and seq.
type klapCodec struct {
	block    cipher.Block
	ivPrefix []byte
	sig      []byte
	seq      atomic.Int32
}

func newKlapCodec(local, remote, authHash []byte) (*klapCodec, error) {
	key := sha256Concat([]byte("lsk"), local, remote, authHash)[:keyLength]
	iv := sha256Concat([]byte("iv"), local, remote, authHash)
	sig := sha256Concat([]byte("ldk"), local, remote, authHash)[:sigKeyLength]

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create aes cipher: %w", err)
	}

	c := &klapCodec{
		block:    block,
		ivPrefix: iv[:ivPrefixLength],
		sig:      sig,
	}
	c.seq.Store(int32(binary.BigEndian.Uint32(iv[len(iv)-seqLength:])))
	return c, nil
}

func (c *klapCodec) Encrypt(plaintext []byte) ([]byte, error) {
	seq := make([]byte, seqLength)
	binary.BigEndian.PutUint32(seq, uint32(c.seq.Add(1)))

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv(seq)).CryptBlocks(ct, padded)

	out := make([]byte, 0, seqLength+signatureLength+len(ct))
	out = append(out, seq...)
	out = append(out, sha256Concat(c.sig, seq, ct)...)
	out = append(out, ct...)
	return out, nil
}

func (c *klapCodec) Decrypt(frame []byte) ([]byte, error) {
	if len(frame) < seqLength+signatureLength+aes.BlockSize {
		return nil, fmt.Errorf("klap frame too short: %d bytes", len(frame))
	}

	seq := frame[:seqLength]
	signature := frame[seqLength : seqLength+signatureLength]
	ct := frame[seqLength+signatureLength:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("klap ciphertext is not a multiple of %d bytes", aes.BlockSize)
	}
	if !hmac.Equal(signature, sha256Concat(c.sig, seq, ct)) {
		return nil, errBadSignature
	}

	padded := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.block, c.iv(seq)).CryptBlocks(padded, ct)
	return pkcs7Unpad(padded, aes.BlockSize)
}

func (c *klapCodec) iv(seq []byte) []byte {
	iv := make([]byte, 0, aes.BlockSize)
	iv = append(iv, c.ivPrefix...)
	return append(iv, seq...)
}
