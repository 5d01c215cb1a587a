// Package cert signs and verifies the Certificate every compiled IR
// image carries: the timing/ISA/invariant proof bundle spec §4.2
// phase 7 produces and §4.3's loader checks before the engine will
// accept an image. Signing rides on golang-jwt/jwt/v5's EdDSA support
// — an Ed25519 signature is exactly 64 bytes, which is why
// ir.Certificate.Sig is sized [64]byte rather than a variable-length
// blob. No signing library other than golang-jwt appears anywhere in
// the example pack (it shows up as an indirect dependency of the
// api-gateway service), so this package is the first thing in the
// module to use it directly.
package cert

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/swarmguard/workflow-engine/internal/ir"
)

// Claims is the JWT payload carrying the certificate's content hash
// and invariant/opcode manifest. The claims exist so the signed token
// is self-describing in transit (logs, export bundles); the engine's
// actual trust decision is the ordered check sequence in loader.go,
// not mere JWT validity.
type Claims struct {
	jwt.RegisteredClaims
	SigmaHash    string   `json:"sigma_hash"`
	OpcodeSet    []uint8  `json:"opcode_set"`
	InvariantIDs []string `json:"invariant_ids"`
}

// Signer holds the engine's Ed25519 signing key.
type Signer struct {
	priv ed25519.PrivateKey
}

// NewSigner generates a fresh Ed25519 key pair for certificate
// signing. The returned public key is what Loader.Verify needs to
// check a certificate produced by this signer.
func NewSigner() (*Signer, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("cert: generate key: %w", err)
	}
	return &Signer{priv: priv}, pub, nil
}

// NewSignerFromSeed constructs a deterministic signer from a 32-byte
// seed, used by tests and by operators who pin a fixed engine key
// across restarts via configuration rather than regenerating one.
func NewSignerFromSeed(seed []byte) (*Signer, ed25519.PublicKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, nil, fmt.Errorf("cert: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{priv: priv}, pub, nil
}

// Sign produces a compact JWT over c's identity fields and writes the
// raw 64-byte Ed25519 signature into c.Sig so the binary image can
// carry the signature without embedding the whole token.
func (s *Signer) Sign(c *ir.Certificate) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
		SigmaHash:    hex.EncodeToString(c.SigmaHash[:]),
		OpcodeSet:    opcodeBytes(c.ISAOpcodeSet),
		InvariantIDs: c.InvariantIDs,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.priv)
	if err != nil {
		return "", fmt.Errorf("cert: sign: %w", err)
	}

	parts := strings.Split(signed, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("cert: malformed token produced by signer")
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("cert: decode signature segment: %w", err)
	}
	if len(sigBytes) != len(c.Sig) {
		return "", fmt.Errorf("cert: unexpected signature length %d", len(sigBytes))
	}
	copy(c.Sig[:], sigBytes)
	return signed, nil
}

func opcodeBytes(ops []ir.Opcode) []uint8 {
	out := make([]uint8, len(ops))
	for i, op := range ops {
		out[i] = uint8(op)
	}
	return out
}
