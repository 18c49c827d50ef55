package bundle

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest describes the bundle contents and rides inside the archive so the
// platform can verify what it received.
type Manifest struct {
	Version          string         `yaml:"version"`
	CreatedAt        time.Time      `yaml:"created_at"`
	Worker           string         `yaml:"worker"`
	Files            []ManifestFile `yaml:"files"`
	Signer           string         `yaml:"signer,omitempty"`
	SigningPublicKey string         `yaml:"signing_public_key,omitempty"`
	Signature        string         `yaml:"signature,omitempty"`
}

// ManifestFile is one file captured in the bundle.
type ManifestFile struct {
	Path   string `yaml:"path"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}

// SigningBytes marshals the manifest without its signature for signing.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}
