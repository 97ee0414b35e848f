package klap

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/bnema/klapctl/internal/domain"
	"github.com/bnema/klapctl/internal/ports"
)

const (
	keypairBits = 1024
	keyLength   = 16
)

// Suite implements the KLAP handshake algorithms and the legacy
// RSA-wrapped key path.
type Suite struct{}

var _ ports.CipherSuite = Suite{}

func NewSuite() Suite {
	return Suite{}
}

func (Suite) GenerateKeypair() (ports.Keypair, error) {
	private, err := rsa.GenerateKey(rand.Reader, keypairBits)
	if err != nil {
		return ports.Keypair{}, fmt.Errorf("generate rsa key: %w", err)
	}

	der, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		return ports.Keypair{}, fmt.Errorf("encode public key: %w", err)
	}

	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return ports.Keypair{PublicKeyPEM: string(block), PrivateKey: private}, nil
}

func (Suite) AuthHash(creds domain.Credentials) []byte {
	user := sha1.Sum([]byte(creds.Username))
	pass := sha1.Sum([]byte(creds.Password))
	return sha256Concat(user[:], pass[:])
}

func (Suite) ServerProof(m ports.HandshakeMaterial) []byte {
	return sha256Concat(m.LocalSeed, m.RemoteSeed, m.AuthHash)
}

func (Suite) ClientProof(m ports.HandshakeMaterial) []byte {
	return sha256Concat(m.RemoteSeed, m.LocalSeed, m.AuthHash)
}

func (Suite) DeriveCodec(m ports.HandshakeMaterial) (domain.Codec, error) {
	if len(m.LocalSeed) != domain.HandshakeSeedLength || len(m.RemoteSeed) != domain.HandshakeSeedLength {
		return nil, errors.New("derive codec: seeds must be 16 bytes")
	}
	if len(m.AuthHash) == 0 {
		return nil, errors.New("derive codec: auth hash is empty")
	}

	return newKlapCodec(m.LocalSeed, m.RemoteSeed, m.AuthHash)
}

// UnwrapCodec decrypts a base64 RSA PKCS#1 v1.5 blob holding key||iv.
func (Suite) UnwrapCodec(keypair ports.Keypair, wrappedKey string) (domain.Codec, error) {
	if keypair.PrivateKey == nil {
		return nil, domain.ErrSetupRequired
	}

	wrapped, err := base64.StdEncoding.DecodeString(wrappedKey)
	if err != nil {
		return nil, fmt.Errorf("decode wrapped key: %w", err)
	}

	material, err := keypair.PrivateKey.Decrypt(rand.Reader, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap session key: %w", err)
	}
	if len(material) < 2*keyLength {
		return nil, fmt.Errorf("unwrap session key: expected %d bytes, got %d", 2*keyLength, len(material))
	}

	return newPassthroughCodec(material[:keyLength], material[keyLength:2*keyLength])
}

func sha256Concat(parts ...[]byte) []byte {
	h := sha256.New()
	for _, part := range parts {
		h.Write(part)
	}
	return h.Sum(nil)
}
