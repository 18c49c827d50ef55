package bundle

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/btcsuite/btcutil/bech32"
)

const envAgeSecretKey = "AGE_SECRET_KEY"

// Signer signs bundle manifests with an Ed25519 key derived from an age
// secret key. Verification happens server-side; the CLI only signs.
type Signer struct {
	privateKey ed25519.PrivateKey
	recipient  string
}

// NewSignerFromEnv builds a Signer from AGE_SECRET_KEY. Signing is optional
// for deploys, so an unset variable yields a nil Signer and no error.
func NewSignerFromEnv() (*Signer, error) {
	secret := strings.TrimSpace(os.Getenv(envAgeSecretKey))
	if secret == "" {
		return nil, nil
	}

	seed, err := decodeAgeSecretKey(secret)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", envAgeSecretKey, err)
	}

	var recipient string
	if identity, err := age.ParseX25519Identity(secret); err == nil {
		if r := identity.Recipient(); r != nil {
			recipient = r.String()
		}
	}

	return &Signer{
		privateKey: ed25519.NewKeyFromSeed(seed),
		recipient:  recipient,
	}, nil
}

// Sign produces a base64-encoded Ed25519 signature for payload.
func (s *Signer) Sign(payload []byte) (string, error) {
	if s == nil || len(s.privateKey) == 0 {
		return "", errors.New("signer configured without private key")
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.privateKey, payload)), nil
}

// PublicKeyBase64 returns the signing public key in base64 form.
func (s *Signer) PublicKeyBase64() string {
	if s == nil || len(s.privateKey) == 0 {
		return ""
	}
	pub := s.privateKey.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub)
}

// Recipient returns the age recipient string for the signing identity.
func (s *Signer) Recipient() string {
	if s == nil {
		return ""
	}
	return s.recipient
}

func decodeAgeSecretKey(raw string) ([]byte, error) {
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(hrp, "age-secret-key-") {
		return nil, fmt.Errorf("unexpected hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(decoded) != ed25519.SeedSize {
		return nil, fmt.Errorf("unexpected seed length %d", len(decoded))
	}
	return decoded, nil
}
