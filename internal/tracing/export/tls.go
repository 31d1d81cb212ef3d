// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package export

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSOptions describes how an exporter secures its connection.
type TLSOptions struct {
	// Enabled switches TLS on. When false Build returns nil.
	Enabled bool

	// VerifyCertificate validates the collector certificate. Disable only
	// against development collectors.
	VerifyCertificate bool

	// CACertPath is a PEM bundle used instead of the system pool.
	CACertPath string

	// ServerName overrides the name used for SNI and verification.
	ServerName string
}

// Build returns the tls.Config for o, or nil when TLS is disabled.
func (o TLSOptions) Build() (*tls.Config, error) {
	if !o.Enabled {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         o.ServerName,
		InsecureSkipVerify: !o.VerifyCertificate,
	}

	switch {
	case o.CACertPath != "":
		pool, err := loadCertPool(o.CACertPath)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	case o.VerifyCertificate:
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("failed to load system cert pool: %w", err)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
