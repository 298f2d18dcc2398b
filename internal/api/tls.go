package api

import (
	"crypto/tls"
	"fmt"
	"log"

	"github.com/AaronLay10/OverlayEngine/internal/config"
)

// TLSConfig holds the certificate and key paths.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

var tlsConfig *TLSConfig

// InitTLS reads OVERLAY_TLS_CERT and OVERLAY_TLS_KEY (or their *_FILE
// variants). TLS is enabled only when both are set.
func InitTLS() error {
	cert, err := config.ResolveSecret("OVERLAY_TLS_CERT")
	if err != nil {
		return fmt.Errorf("failed to resolve OVERLAY_TLS_CERT: %w", err)
	}
	key, err := config.ResolveSecret("OVERLAY_TLS_KEY")
	if err != nil {
		return fmt.Errorf("failed to resolve OVERLAY_TLS_KEY: %w", err)
	}

	tlsConfig = nil
	if cert != "" && key != "" {
		tlsConfig = &TLSConfig{CertFile: cert, KeyFile: key}
	}
	return nil
}

// IsTLSEnabled returns true if TLS is configured.
func IsTLSEnabled() bool {
	return tlsConfig != nil && tlsConfig.CertFile != "" && tlsConfig.KeyFile != ""
}

// GetTLSConfig returns the current TLS configuration, nil when disabled.
func GetTLSConfig() *TLSConfig {
	return tlsConfig
}

// LoadTLSConfig loads the key pair. It returns nil and logs when TLS is
// disabled or the files cannot be loaded.
func LoadTLSConfig() *tls.Config {
	if !IsTLSEnabled() {
		return nil
	}

	cert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
	if err != nil {
		log.Printf("failed to load TLS certificate: %v", err)
		return nil
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}

// SetTLSConfigForTest allows tests to set TLS config directly.
func SetTLSConfigForTest(cfg *TLSConfig) {
	tlsConfig = cfg
}
