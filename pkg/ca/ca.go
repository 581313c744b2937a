// Package ca provides certificate authority management for TLS
// interception: a self-signed root CA and on-the-fly leaf issuance for the
// SNI host of each intercepted HTTPS connection.
package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	rsaKeyBits     = 2048
	caValidFor     = 2 * 365 * 24 * time.Hour
	leafValidFor   = 2 * 365 * 24 * time.Hour
	leafClockSkew  = -1 * time.Hour
	defaultCN      = "Proxy Traffic MCP CA"
)

// CA represents the certificate authority used to sign leaf certificates.
type CA struct {
	Certificate *x509.Certificate
	PrivateKey  *rsa.PrivateKey
	certPEM     []byte
	keyPEM      []byte
}

// Config holds CA generation options.
type Config struct {
	Organization string
	CommonName   string
	ValidFor     time.Duration
}

// DefaultConfig returns the specification's documented CA parameters.
func DefaultConfig() *Config {
	return &Config{
		Organization: "Proxy Traffic MCP",
		CommonName:   defaultCN,
		ValidFor:     caValidFor,
	}
}

// New generates a fresh 2048-bit RSA CA, self-signed with SHA-256, per the
// exact subject/SAN/usage fields the specification requires.
func New(cfg *Config) (*CA, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := time.Now()
	notAfter := notBefore.Add(cfg.ValidFor)

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{cfg.Organization},
			CommonName:   cfg.CommonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment | x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageCodeSigning, x509.ExtKeyUsageEmailProtection, x509.ExtKeyUsageTimeStamping},
		IsCA:                  true,
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost", "*.localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})

	return &CA{
		Certificate: cert,
		PrivateKey:  privateKey,
		certPEM:     certPEM,
		keyPEM:      keyPEM,
	}, nil
}

// Load loads an existing CA from PEM files on disk.
func Load(certPath, keyPath string) (*CA, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return LoadFromPEM(certPEM, keyPEM)
}

// LoadFromPEM loads a CA from PEM-encoded data already in memory.
func LoadFromPEM(certPEM, keyPEM []byte) (*CA, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		key, err2 := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		privateKey = rsaKey
	}

	return &CA{
		Certificate: cert,
		PrivateKey:  privateKey,
		certPEM:     certPEM,
		keyPEM:      keyPEM,
	}, nil
}

// Save writes the CA certificate and private key to disk.
func (ca *CA) Save(certPath, keyPath string) error {
	if err := os.MkdirAll(filepath.Dir(certPath), 0755); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(certPath, ca.certPEM, 0644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, ca.keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	return nil
}

// CertPEM returns the CA certificate in PEM format.
func (ca *CA) CertPEM() []byte { return ca.certPEM }

// KeyPEM returns the CA private key in PEM format.
func (ca *CA) KeyPEM() []byte { return ca.keyPEM }

// TLSCertificate returns the CA as a tls.Certificate, suitable for
// goproxy's MITM configuration.
func (ca *CA) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(ca.certPEM, ca.keyPEM)
}

// GenerateCert issues a leaf certificate for domain, signed by this CA. The
// leaf's own private key is freshly generated per call. LeafCache reuses a
// host's certificate and key for that same host only; keys are not shared
// between hosts.
func (ca *CA) GenerateCert(domain string) (certPEM, keyPEM []byte, err error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: domain},
		NotBefore:    time.Now().Add(leafClockSkew),
		NotAfter:     time.Now().Add(leafValidFor),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(domain); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{domain}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.Certificate, &privateKey.PublicKey, ca.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM, nil
}

// DefaultCADir returns the default directory for storing CA files.
func DefaultCADir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".proxymcpd"
	}
	return filepath.Join(home, ".proxymcpd", "ca")
}

// DefaultCertPath returns the default path for the CA certificate.
func DefaultCertPath() string { return filepath.Join(DefaultCADir(), "proxymcpd-ca.crt") }

// DefaultKeyPath returns the default path for the CA private key.
func DefaultKeyPath() string { return filepath.Join(DefaultCADir(), "proxymcpd-ca.key") }

// LoadOrCreate loads an existing CA from disk, or generates and persists a
// new one if either file is missing.
func LoadOrCreate(certPath, keyPath string, cfg *Config) (*CA, error) {
	if _, err := os.Stat(certPath); err == nil {
		if _, err := os.Stat(keyPath); err == nil {
			return Load(certPath, keyPath)
		}
	}

	newCA, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := newCA.Save(certPath, keyPath); err != nil {
		return nil, err
	}
	return newCA, nil
}
