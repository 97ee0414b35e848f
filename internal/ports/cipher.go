package ports

import (
	"crypto"

	"github.com/bnema/klapctl/internal/domain"
)

// Keypair is the asymmetric pair generated once at session setup. The
// private half only needs to decrypt device-wrapped key material.
type Keypair struct {
	PublicKeyPEM string
	PrivateKey   crypto.Decrypter
}

// HandshakeMaterial is what both sides know after handshake1.
type HandshakeMaterial struct {
	LocalSeed  []byte
	RemoteSeed []byte
	AuthHash   []byte
}

// CipherSuite owns every byte-level algorithm of the handshake so session
// logic never depends on a concrete cipher.
type CipherSuite interface {
	GenerateKeypair() (Keypair, error)
	AuthHash(creds domain.Credentials) []byte
	ServerProof(material HandshakeMaterial) []byte
	ClientProof(material HandshakeMaterial) []byte
	DeriveCodec(material HandshakeMaterial) (domain.Codec, error)
	UnwrapCodec(keypair Keypair, wrappedKey string) (domain.Codec, error)
}
