package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fruitsalade/storeclient/pkg/protocol"
)

// Neighbour describes a peer store in the network.
type Neighbour struct {
	ID      string
	Name    string
	Address string
	FQDN    string
}

// DecodeNeighbours decodes the peer list. A null array yields an empty slice.
func DecodeNeighbours(data []byte) ([]Neighbour, error) {
	var dtos []protocol.NeighbourDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return nil, &DecodeError{Entity: "neighbour list", Err: err}
	}
	out := make([]Neighbour, 0, len(dtos))
	for _, dto := range dtos {
		if dto.ID == "" {
			return nil, missingField("neighbour", "id")
		}
		out = append(out, Neighbour{
			ID:      dto.ID,
			Name:    dto.Name,
			Address: dto.Address,
			FQDN:    dto.FQDN,
		})
	}
	return out, nil
}

// Status is a runtime snapshot of the store serving the request.
type Status struct {
	ConnectedID     string
	NbCPUs          int
	TotalMemory     int64
	AvailableMemory int64
	MaxMemory       int64
	LatestMetrics   map[string]float64
	Metrics         map[string]float64
}

// DecodeStatus decodes a status payload. Absent metric mappings decode to
// empty maps.
func DecodeStatus(data []byte) (*Status, error) {
	var dto protocol.StatusDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, &DecodeError{Entity: "status", Err: err}
	}

	for field, v := range map[string]int64{
		"nbCpus":          int64(dto.NbCPUs),
		"totalMemory":     dto.TotalMemory,
		"availableMemory": dto.AvailableMemory,
		"maxMemory":       dto.MaxMemory,
	} {
		if v < 0 {
			return nil, &DecodeError{Entity: "status", Field: field, Err: fmt.Errorf("negative value %d", v)}
		}
	}

	return &Status{
		ConnectedID:     dto.ConnectedID,
		NbCPUs:          dto.NbCPUs,
		TotalMemory:     dto.TotalMemory,
		AvailableMemory: dto.AvailableMemory,
		MaxMemory:       dto.MaxMemory,
		LatestMetrics:   copyMetrics(dto.LatestMetrics),
		Metrics:         copyMetrics(dto.Metrics),
	}, nil
}

func copyMetrics(src map[string]float64) map[string]float64 {
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// ErrNoValue is returned when a search result carries no payload.
var ErrNoValue = errors.New("search result has no value")

// SearchResult is a single search hit. Value holds the raw JSON payload,
// whose shape depends on Type; decode it with DecodeValue.
type SearchResult struct {
	Type       string
	Identifier string
	Explain    string
	Value      json.RawMessage
}

// HasValue reports whether the hit carries a non-null payload.
func (r *SearchResult) HasValue() bool {
	v := bytes.TrimSpace(r.Value)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}

// DecodeValue unmarshals the payload into out.
func (r *SearchResult) DecodeValue(out any) error {
	if !r.HasValue() {
		return ErrNoValue
	}
	if err := json.Unmarshal(r.Value, out); err != nil {
		return &DecodeError{Entity: "search value", Err: err}
	}
	return nil
}

// NodeValue decodes the payload as a Node.
func (r *SearchResult) NodeValue() (*Node, error) {
	if !r.HasValue() {
		return nil, ErrNoValue
	}
	return DecodeNode(r.Value)
}

// DecodeSearchResults decodes a search response. A null array yields an
// empty slice.
func DecodeSearchResults(data []byte) ([]SearchResult, error) {
	var dtos []protocol.SearchResultDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return nil, &DecodeError{Entity: "search results", Err: err}
	}
	out := make([]SearchResult, 0, len(dtos))
	for _, dto := range dtos {
		if dto.Type == "" {
			return nil, missingField("search result", "type")
		}
		if dto.Identifier == "" {
			return nil, missingField("search result", "identifier")
		}
		out = append(out, SearchResult{
			Type:       dto.Type,
			Identifier: dto.Identifier,
			Explain:    dto.Explain,
			Value:      append(json.RawMessage(nil), dto.Value...),
		})
	}
	return out, nil
}
