// Package leaf mints per-hostname TLS leaf certificates signed by the
// process CA, with a memoizing cache that collapses concurrent requests
// for the same hostname into a single signing operation.
//
// The certificate template is grounded on Wowfunhappy-AquaProxy/AquaProxy.go's
// genCert (serial number, validity window, SAN handling). The
// single-flight collapsing is grounded on the "cell containing either a
// value or a completion handle" description in spec.md §4.4/§9,
// implemented with golang.org/x/sync/singleflight — see DESIGN.md for
// why this one dependency comes from outside the retrieval pack.
package leaf

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/datawizz/local-logger/internal/ca"
)

const (
	leafValidity = 365 * 24 * time.Hour
	leafBackdate = 5 * time.Minute
	leafKeyBits  = 2048
)

// Leaf is an immutable minted certificate, safe to share by reference
// across concurrently served connections.
type Leaf struct {
	Certificate tls.Certificate
}

// Minter mints and caches leaf certificates for a fixed root CA.
type Minter struct {
	root *ca.CA

	mu    sync.RWMutex
	cache map[string]*Leaf

	group singleflight.Group
}

// New returns a Minter signing leaves with root.
func New(root *ca.CA) *Minter {
	return &Minter{
		root:  root,
		cache: make(map[string]*Leaf),
	}
}

// LeafFor returns the cached leaf for hostname, minting one if absent.
// Concurrent calls for the same uncached hostname share one signing
// operation and receive identical results (spec.md §4.4 invariant 3).
func (m *Minter) LeafFor(hostname string) (*Leaf, error) {
	key := strings.ToLower(hostname)

	m.mu.RLock()
	if l, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return l, nil
	}
	m.mu.RUnlock()

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		// Re-check under the singleflight key in case another caller's
		// mint finished between our RUnlock and Do.
		m.mu.RLock()
		if l, ok := m.cache[key]; ok {
			m.mu.RUnlock()
			return l, nil
		}
		m.mu.RUnlock()

		l, err := mint(m.root, key)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.cache[key] = l
		m.mu.Unlock()

		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Leaf), nil
}

// CacheSize reports the number of distinct hostnames currently minted,
// used by tests exercising spec.md §8 invariant 3.
func (m *Minter) CacheSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

func mint(root *ca.CA, hostname string) (*Leaf, error) {
	key, err := rsa.GenerateKey(rand.Reader, leafKeyBits)
	if err != nil {
		return nil, fmt.Errorf("leaf: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("leaf: generate serial: %w", err)
	}

	now := time.Now().UTC()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hostname},
		NotBefore:             now.Add(-leafBackdate),
		NotAfter:              now.Add(leafValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	if ip := net.ParseIP(hostname); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{hostname}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, root.Cert, &key.PublicKey, root.Key)
	if err != nil {
		return nil, fmt.Errorf("leaf: sign certificate for %s: %w", hostname, err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der, root.Cert.Raw},
		PrivateKey:  key,
	}
	leafCert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("leaf: parse minted certificate: %w", err)
	}
	cert.Leaf = leafCert

	return &Leaf{Certificate: cert}, nil
}
