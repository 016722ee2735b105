// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net"
	"net/http"
)

// tailnetCGNAT is the Tailscale address range, 100.64.0.0/10.
var tailnetCGNAT = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// SystemHandler serves health and server-info.
type SystemHandler struct {
	Port     int
	Protocol string // "http" or "https"

	// interfaceAddrs is swappable for tests
	interfaceAddrs func() ([]net.Addr, error)
}

// NewSystemHandler creates a system handler.
func NewSystemHandler(port int, tlsEnabled bool) *SystemHandler {
	protocol := "http"
	if tlsEnabled {
		protocol = "https"
	}
	return &SystemHandler{Port: port, Protocol: protocol, interfaceAddrs: net.InterfaceAddrs}
}

// Health handles GET /api/health.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ServerInfo handles GET /api/server-info.
func (h *SystemHandler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	info := struct {
		Port        int     `json:"port"`
		TailscaleIP *string `json:"tailscaleIp"`
		Protocol    string  `json:"protocol"`
	}{Port: h.Port, Protocol: h.Protocol}

	if ip := h.tailscaleIP(); ip != "" {
		info.TailscaleIP = &ip
	}
	WriteJSON(w, http.StatusOK, info)
}

// tailscaleIP scans the interface table for an address in the tailnet range.
func (h *SystemHandler) tailscaleIP() string {
	addrs, err := h.interfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 != nil && tailnetCGNAT.Contains(ip4) {
			return ip4.String()
		}
	}
	return ""
}
