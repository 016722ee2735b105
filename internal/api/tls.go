// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"fmt"
	"os"
	"strings"
)

// CheckTLSConfig reports whether the server should terminate TLS from a
// cert/key file pair. Specifying only one of the two is a configuration
// error; specifying neither means plain HTTP (or Tailscale-issued certs).
func CheckTLSConfig(certPath, keyPath string) (bool, error) {
	if certPath == "" && keyPath == "" {
		return false, nil
	}
	if certPath == "" || keyPath == "" {
		return false, fmt.Errorf("both tls_cert and tls_key must be specified (got cert=%q, key=%q)", certPath, keyPath)
	}

	for _, p := range []string{expandPath(certPath), expandPath(keyPath)} {
		if _, err := os.Stat(p); err != nil {
			return false, fmt.Errorf("tls file %s: %w", p, err)
		}
	}
	return true, nil
}

// expandPath resolves a leading ~ against the user home, matching how the
// config file paths are written.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
