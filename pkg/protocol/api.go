// Package protocol defines the wire types exchanged with a store.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// API paths, relative to a store base URL.
const (
	PathHealth  = "/q/health"
	PathNodes   = "/api/nodes"
	PathNetwork = "/api/network"
	PathStatus  = "/api/status"
	PathSearch  = "/api/search"
)

// Node types as reported by the server.
const (
	NodeTypeTree = "TREE"
	NodeTypeBlob = "BLOB"
)

// Multipart form fields used by create and update.
const (
	FieldName = "name"
	FieldData = "data"
)

// DefaultChildrenLimit is the page size the server applies when none is given.
const DefaultChildrenLimit = 20

// NodeDTO is returned by GET /api/nodes/{id} and embedded in listings.
type NodeDTO struct {
	ID           string    `json:"id"`
	Parent       string    `json:"parent,omitempty"`
	Name         string    `json:"name"`
	Type         string    `json:"type,omitempty"`
	IsFolder     *bool     `json:"isFolder,omitempty"`
	Mimetype     *string   `json:"mimetype,omitempty"`
	Size         int64     `json:"size"`
	Creation     Timestamp `json:"creation"`
	Modification Timestamp `json:"modification"`
}

// CollectionDTO is returned by GET /api/nodes/{id}/children.
type CollectionDTO struct {
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
	Size   int               `json:"size"`
	Values []json.RawMessage `json:"values"`
}

// NeighbourDTO is one entry of GET /api/network.
type NeighbourDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	FQDN    string `json:"fqdn"`
}

// StatusDTO is returned by GET /api/status.
type StatusDTO struct {
	ConnectedID     string             `json:"connectedId"`
	NbCPUs          int                `json:"nbCpus"`
	TotalMemory     int64              `json:"totalMemory"`
	AvailableMemory int64              `json:"availableMemory"`
	MaxMemory       int64              `json:"maxMemory"`
	LatestMetrics   map[string]float64 `json:"latestMetrics,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
}

// SearchResultDTO is one entry of GET /api/search.
type SearchResultDTO struct {
	Type       string          `json:"type"`
	Identifier string          `json:"identifier"`
	Explain    string          `json:"explain"`
	Value      json.RawMessage `json:"value,omitempty"`
}

// CreateFolderRequest is the JSON body of POST /api/nodes/{parentId}
// when no content is uploaded.
type CreateFolderRequest struct {
	Name string `json:"name"`
}

// ErrorResponse is the JSON error body some store deployments return.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// Timestamp is an instant that decodes from either an RFC 3339 string or
// epoch milliseconds. It always encodes as an RFC 3339 string, or null when
// zero.
type Timestamp struct {
	time.Time
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}

	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: not a string or epoch milliseconds", data)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}
