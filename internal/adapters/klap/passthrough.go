package klap

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// passthroughCodec is plain AES-128-CBC with a fixed key and IV delivered by
// the device wrapped under our RSA public key.
type passthroughCodec struct {
	block cipher.Block
	iv    []byte
}

func newPassthroughCodec(key, iv []byte) (*passthroughCodec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create aes cipher: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("passthrough iv must be %d bytes", aes.BlockSize)
	}

	return &passthroughCodec{block: block, iv: append([]byte(nil), iv...)}, nil
}

func (c *passthroughCodec) Encrypt(plaintext []byte) ([]byte, error) {
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, padded)
	return out, nil
}

func (c *passthroughCodec) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("passthrough ciphertext length %d is not a positive multiple of %d", len(ciphertext), aes.BlockSize)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, aes.BlockSize)
}
