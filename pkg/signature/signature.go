// Package signature implements the sr25519 request authentication used on the
// validator to miner RPC surface. The validator signs each request body with
// its hotkey; miners verify the signature against the caller's SS58 address.
package signature

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/vedhavyas/go-subkey"
)

const (
	// SS58NetworkID is the generic substrate address prefix.
	SS58NetworkID = 42

	// signatureLength is the size of a raw sr25519 signature in bytes.
	signatureLength = 64

	DefaultWalletDir     = "~/.tokengraph"
	DefaultWalletColdkey = "default"
)

// SignatureProvider signs outbound request bodies.
type SignatureProvider interface {
	Sign(message string) (string, error)
}

// SignatureVerifier checks inbound request bodies against a caller address.
type SignatureVerifier interface {
	Verify(message, signature, ss58Address string) (bool, error)
}

// Provider signs messages with a loaded hotkey.
type Provider struct {
	keypair *sr25519.Keypair
}

func NewProvider(keypair *sr25519.Keypair) (*Provider, error) {
	if keypair == nil {
		return nil, fmt.Errorf("keypair is nil")
	}
	return &Provider{keypair: keypair}, nil
}

// Sign returns the 0x-prefixed hex signature of the message.
func (p *Provider) Sign(message string) (string, error) {
	sig, err := p.keypair.Sign([]byte(message))
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// Address returns the signer's SS58 address, the identity miners verify
// against.
func (p *Provider) Address() string {
	return ToSS58Address(p.keypair)
}

// Verifier validates request signatures without holding any key material.
type Verifier struct{}

func NewVerifier() *Verifier {
	return &Verifier{}
}

func (v *Verifier) Verify(message, signature, ss58Address string) (bool, error) {
	return Verify(message, signature, ss58Address)
}

// Verify reports whether the signature over the message was produced by the
// key behind the SS58 address. Format problems are errors, a well-formed but
// wrong signature is (false, nil).
func Verify(message, signature, ss58Address string) (bool, error) {
	sigBytes, err := decodeSignature(signature)
	if err != nil {
		return false, err
	}

	_, pubKeyBytes, err := subkey.SS58Decode(ss58Address)
	if err != nil {
		return false, fmt.Errorf("decode ss58 address: %w", err)
	}
	publicKey, err := sr25519.NewPublicKey(pubKeyBytes)
	if err != nil {
		return false, fmt.Errorf("build public key: %w", err)
	}

	return publicKey.Verify([]byte(message), sigBytes)
}

func decodeSignature(signature string) ([]byte, error) {
	raw, ok := strings.CutPrefix(signature, "0x")
	if !ok {
		return nil, fmt.Errorf("signature missing 0x prefix")
	}
	sigBytes, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode signature hex: %w", err)
	}
	if len(sigBytes) != signatureLength {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", signatureLength, len(sigBytes))
	}
	return sigBytes, nil
}

// ToSS58Address encodes a keypair's public key as a generic substrate address.
func ToSS58Address(keypair *sr25519.Keypair) string {
	return subkey.SS58Encode(keypair.Public().Encode(), SS58NetworkID)
}
