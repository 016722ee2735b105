// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	maxPathLen    = 4096
	maxDirEntries = 200
)

// DirectoryEntry is one subdirectory in a listing.
type DirectoryEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// DirectoriesHandler serves the project-path picker.
type DirectoriesHandler struct{}

// NewDirectoriesHandler creates a directories handler.
func NewDirectoriesHandler() *DirectoriesHandler {
	return &DirectoriesHandler{}
}

// List handles GET /api/directories?path=<p>.
func (h *DirectoriesHandler) List(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "~"
	}
	if len(path) > maxPathLen {
		WriteError(w, http.StatusBadRequest, ErrInvalidPath)
		return
	}

	path = expandHome(path)
	path = filepath.Clean(path)

	entries, err := os.ReadDir(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			WriteError(w, http.StatusNotFound, ErrNotFound)
		case errors.Is(err, fs.ErrPermission):
			WriteError(w, http.StatusForbidden, ErrForbidden)
		default:
			WriteError(w, http.StatusInternalServerError, ErrInternalError)
		}
		return
	}

	dirs := make([]DirectoryEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirs = append(dirs, DirectoryEntry{
			Name: e.Name(),
			Path: filepath.Join(path, e.Name()),
		})
	}

	// Dot-prefixed entries first, then case-insensitive by name
	sort.Slice(dirs, func(i, j int) bool {
		di, dj := strings.HasPrefix(dirs[i].Name, "."), strings.HasPrefix(dirs[j].Name, ".")
		if di != dj {
			return di
		}
		return strings.ToLower(dirs[i].Name) < strings.ToLower(dirs[j].Name)
	})

	truncated := false
	if len(dirs) > maxDirEntries {
		dirs = dirs[:maxDirEntries]
		truncated = true
	}

	parent := filepath.Dir(path)
	if parent == path {
		parent = ""
	}

	WriteJSON(w, http.StatusOK, struct {
		Path        string           `json:"path"`
		Parent      string           `json:"parent,omitempty"`
		Directories []DirectoryEntry `json:"directories"`
		Truncated   bool             `json:"truncated"`
	}{Path: path, Parent: parent, Directories: dirs, Truncated: truncated})
}

// expandHome replaces a leading ~ with the user home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}
