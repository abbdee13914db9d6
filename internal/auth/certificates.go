// Package auth handles TLS trust for the management API client and
// request authentication for the read-only report API.
package auth

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rossigee/cloudsize/pkg/types"
	"github.com/sirupsen/logrus"
)

// ErrNoCertificates is returned when a PEM bundle holds no usable certificate
var ErrNoCertificates = errors.New("no certificates found in PEM data")

// LoadCertPool reads a PEM bundle into a new certificate pool
func LoadCertPool(path string) (*x509.CertPool, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("failed to parse CA cert %s: %w", path, ErrNoCertificates)
	}
	return pool, nil
}

// ClientTLSConfig builds the TLS configuration for management API calls.
// Without a CA bundle, certificate verification is relaxed: clusters ship
// self-signed certificates and the API is normally reached over loopback.
func ClientTLSConfig(caCertPath string) (*tls.Config, error) {
	if caCertPath == "" {
		logrus.Warn("No management API CA configured, TLS certificate verification disabled")
		return &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, //nolint:gosec // compatibility fallback for self-signed cluster certificates
		}, nil
	}

	pool, err := LoadCertPool(caCertPath)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    pool,
	}, nil
}

// Validator handles report API authentication
type Validator struct {
	clientCAs      *x509.CertPool
	clientCALoaded bool            // Whether client CA certificates were loaded
	apiTokens      map[string]bool // Simple token validation
}

// NewValidator creates a new authentication validator
func NewValidator() (*Validator, error) {
	validator := &Validator{
		clientCAs: x509.NewCertPool(),
		apiTokens: make(map[string]bool),
	}

	if err := validator.loadClientCAs(); err != nil {
		return nil, fmt.Errorf("failed to load client CAs: %w", err)
	}

	if err := validator.loadAPITokens(); err != nil {
		return nil, fmt.Errorf("failed to load API tokens: %w", err)
	}

	return validator, nil
}

// loadClientCAs loads client certificate authorities
func (v *Validator) loadClientCAs() error {
	caCertPath := os.Getenv("CLIENT_CA_CERT")
	if caCertPath == "" {
		caCertPath = "/etc/ssl/certs/client-ca.pem"
	}

	if _, err := os.Stat(caCertPath); os.IsNotExist(err) {
		v.clientCALoaded = false
		return nil
	}

	pool, err := LoadCertPool(caCertPath)
	if err != nil {
		return err
	}

	v.clientCAs = pool
	v.clientCALoaded = true
	return nil
}

// loadAPITokens loads API tokens, one per line. Without a token file the API
// accepts no tokens and only client certificates can authenticate.
func (v *Validator) loadAPITokens() error {
	tokenFile := os.Getenv("API_TOKENS_FILE")
	if tokenFile == "" {
		tokenFile = "/etc/cloudsize/api-tokens"
	}

	if _, err := os.Stat(tokenFile); os.IsNotExist(err) {
		logrus.WithField("tokens_file", tokenFile).Warn("API token file not found, token authentication disabled")
		return nil
	}

	content, err := os.ReadFile(tokenFile)
	if err != nil {
		return fmt.Errorf("failed to read API tokens: %w", err)
	}

	for _, line := range strings.Split(string(content), "\n") {
		token := strings.TrimSpace(line)
		if token != "" && !strings.HasPrefix(token, "#") {
			v.apiTokens[token] = true
		}
	}

	return nil
}

// Middleware returns Gin middleware for authentication
func (v *Validator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v.validateAPIToken(c) {
			c.Next()
			return
		}

		// Verified peer certificates only exist when the TLS config required them
		if c.Request.TLS != nil && len(c.Request.TLS.VerifiedChains) > 0 {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(401, types.ErrorResponse{
			Error:   "authentication required",
			Message: "provide valid API token or client certificate",
			Code:    401,
		})
	}
}

// validateAPIToken validates API token from Authorization or X-API-Token headers
func (v *Validator) validateAPIToken(c *gin.Context) bool {
	authHeader := c.GetHeader("Authorization")

	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok && token != "" {
		return v.apiTokens[token]
	}

	if token := c.GetHeader("X-API-Token"); token != "" {
		return v.apiTokens[token]
	}

	return false
}

// ServerTLSConfig returns the TLS configuration for the report API, or nil
// when no client CA is loaded and the API should be served over plain HTTP.
func (v *Validator) ServerTLSConfig() *tls.Config {
	if !v.clientCALoaded {
		return nil
	}
	return &tls.Config{
		ClientAuth: tls.VerifyClientCertIfGiven,
		ClientCAs:  v.clientCAs,
		MinVersion: tls.VersionTLS12,
	}
}

// IsClientCALoaded returns whether client CA certificates were loaded
func (v *Validator) IsClientCALoaded() bool {
	return v.clientCALoaded
}
