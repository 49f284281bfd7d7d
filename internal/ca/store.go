// Package ca owns the process-local certificate authority used to mint
// leaf certificates for MITM interception.
//
// Grounded on Wowfunhappy-AquaProxy/AquaProxy.go's genCert/loadCA (the
// x509 template, RSA key algorithm, and CreateCertificate call) and on
// original_source/src/certificate_manager.rs for the on-disk lifecycle:
// load-if-both-present, generate-if-neither, fail-if-exactly-one, and
// the 0600 permission on the private key file.
package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// ErrInconsistent is returned when exactly one of ca.pem/ca.key exists.
var ErrInconsistent = errors.New("ca: certificate and key files are inconsistent (only one present)")

const (
	certFileName = "ca.pem"
	keyFileName  = "ca.key"

	caValidity = 10 * 365 * 24 * time.Hour
	// RSA-2048 keeps leaf signing latency low while remaining well above
	// what any current client rejects as MITM CA material.
	caKeyBits = 2048
)

// CA is the loaded (or freshly generated) root certificate authority.
type CA struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
}

// Store owns the CA's on-disk representation under a certificate directory.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir. dir is not created until
// LoadOrInit generates a new CA.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) certPath() string { return filepath.Join(s.dir, certFileName) }
func (s *Store) keyPath() string  { return filepath.Join(s.dir, keyFileName) }

// LoadOrInit implements spec.md §4.3: load both files if present,
// generate both if neither is present, fail with ErrInconsistent if
// exactly one is present.
func (s *Store) LoadOrInit() (*CA, error) {
	certExists := fileExists(s.certPath())
	keyExists := fileExists(s.keyPath())

	switch {
	case certExists && keyExists:
		return s.load()
	case !certExists && !keyExists:
		return s.generateAndSave()
	default:
		return nil, ErrInconsistent
	}
}

// Load requires both CA files to already exist and loads them, for
// callers that have tls.generate_ca disabled and want auto-generation
// suppressed entirely rather than falling back to LoadOrInit's
// generate-if-neither behavior.
func (s *Store) Load() (*CA, error) {
	if !fileExists(s.certPath()) || !fileExists(s.keyPath()) {
		return nil, fmt.Errorf("ca: %s/%s not found and tls.generate_ca is disabled: %w", certFileName, keyFileName, ErrInconsistent)
	}
	return s.load()
}

// Force deletes both CA files unconditionally, for `init --force`.
func (s *Store) Force() error {
	if err := os.Remove(s.certPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ca: remove %s: %w", s.certPath(), err)
	}
	if err := os.Remove(s.keyPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ca: remove %s: %w", s.keyPath(), err)
	}
	return nil
}

func (s *Store) load() (*CA, error) {
	certPEM, err := os.ReadFile(s.certPath())
	if err != nil {
		return nil, fmt.Errorf("ca: read %s: %w", s.certPath(), err)
	}
	keyPEM, err := os.ReadFile(s.keyPath())
	if err != nil {
		return nil, fmt.Errorf("ca: read %s: %w", s.keyPath(), err)
	}

	if info, err := os.Stat(s.keyPath()); err == nil {
		if mode := info.Mode().Perm(); mode&^0o600 != 0 {
			fmt.Fprintf(os.Stderr, "local-logger: warning: %s has permissions %04o, expected 0600\n", s.keyPath(), mode)
		}
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("ca: %s is not valid PEM", s.certPath())
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ca: parse certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("ca: %s is not valid PEM", s.keyPath())
	}
	key, err := parseRSAKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ca: parse private key: %w", err)
	}

	return &CA{Cert: cert, Key: key}, nil
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	generic, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := generic.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

func (s *Store) generateAndSave() (*CA, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("ca: create cert dir: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, caKeyBits)
	if err != nil {
		return nil, fmt.Errorf("ca: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("ca: generate serial: %w", err)
	}

	now := time.Now().UTC()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "local-logger Root CA",
			Organization: []string{"local-logger"},
		},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("ca: create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("ca: parse generated certificate: %w", err)
	}

	if err := os.WriteFile(s.certPath(), pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		return nil, fmt.Errorf("ca: write %s: %w", s.certPath(), err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("ca: marshal key: %w", err)
	}
	if err := os.WriteFile(s.keyPath(), pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		return nil, fmt.Errorf("ca: write %s: %w", s.keyPath(), err)
	}
	// os.WriteFile applies the mode only when creating the file; enforce
	// it explicitly in case the file already existed with wider perms.
	if err := os.Chmod(s.keyPath(), 0o600); err != nil {
		return nil, fmt.Errorf("ca: chmod %s: %w", s.keyPath(), err)
	}

	return &CA{Cert: cert, Key: key}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
