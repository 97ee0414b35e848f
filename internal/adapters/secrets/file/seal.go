package file

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const sealFormatVersion = 1

var errWrongPassphrase = errors.New("wrong passphrase or corrupted secret")

// sealedSecret is the on-disk JSON envelope of a sealed secret.
type sealedSecret struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

type scryptParams struct {
	N, R, P int
}

func scryptParamsDefault() scryptParams {
	return scryptParams{N: 1 << 15, R: 8, P: 1}
}

func seal(passphrase string, raw []byte, params scryptParams) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}

	aead, err := deriveAEAD(passphrase, salt[:], params)
	if err != nil {
		return nil, err
	}

	// A fresh salt per write gives a fresh key, so the zero nonce never repeats.
	var nonce [chacha20poly1305.NonceSize]byte
	ct := aead.Seal(nil, nonce[:], raw, salt[:])

	return json.Marshal(sealedSecret{
		V:      sealFormatVersion,
		Salt:   salt[:],
		N:      params.N,
		R:      params.R,
		P:      params.P,
		Cipher: ct,
	})
}

func open(passphrase string, data []byte) ([]byte, error) {
	var sealed sealedSecret
	if err := json.Unmarshal(data, &sealed); err != nil {
		return nil, fmt.Errorf("decode sealed secret: %w", err)
	}
	if sealed.V > sealFormatVersion {
		return nil, fmt.Errorf("unsupported sealed secret version %d", sealed.V)
	}

	aead, err := deriveAEAD(passphrase, sealed.Salt, scryptParams{N: sealed.N, R: sealed.R, P: sealed.P})
	if err != nil {
		return nil, err
	}

	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], sealed.Cipher, sealed.Salt)
	if err != nil {
		return nil, errWrongPassphrase
	}
	return pt, nil
}

func deriveAEAD(passphrase string, salt []byte, params scryptParams) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, params.N, params.R, params.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive secret key: %w", err)
	}
	return chacha20poly1305.New(key)
}
