// Package models contains the entity types returned by a store.
//
// Entities are built only through the Decode functions, which accept the raw
// JSON body of a response. Every value is a snapshot of the server state at
// fetch time; nothing here is cached or shared between calls.
package models

import (
	"encoding/json"
	"time"

	"github.com/fruitsalade/storeclient/pkg/protocol"
)

// Node represents a file or folder in a store.
type Node struct {
	ID       string
	Parent   string // empty for the root
	Name     string
	Type     string // protocol.NodeTypeTree or protocol.NodeTypeBlob
	IsFolder bool
	Mimetype *string // nil for folders
	Size     int64
	Created  time.Time
	Modified time.Time
}

// IsRoot reports whether n has no parent.
func (n *Node) IsRoot() bool {
	return n.Parent == ""
}

// MimetypeOr returns the node mimetype, or fallback when it has none.
func (n *Node) MimetypeOr(fallback string) string {
	if n.Mimetype == nil || *n.Mimetype == "" {
		return fallback
	}
	return *n.Mimetype
}

// DTO converts n back to its wire form.
func (n *Node) DTO() protocol.NodeDTO {
	isFolder := n.IsFolder
	dto := protocol.NodeDTO{
		ID:           n.ID,
		Parent:       n.Parent,
		Name:         n.Name,
		Type:         n.Type,
		IsFolder:     &isFolder,
		Size:         n.Size,
		Creation:     protocol.Timestamp{Time: n.Created},
		Modification: protocol.Timestamp{Time: n.Modified},
	}
	if n.Mimetype != nil {
		m := *n.Mimetype
		dto.Mimetype = &m
	}
	return dto
}

// MarshalJSON encodes n in the same shape the server sends.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.DTO())
}

// DecodeNode decodes a single node payload.
func DecodeNode(data []byte) (*Node, error) {
	var dto protocol.NodeDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, &DecodeError{Entity: "node", Err: err}
	}
	return NodeFromDTO(dto)
}

// DecodeNodes decodes a JSON array of nodes. A null array yields an empty
// slice.
func DecodeNodes(data []byte) ([]*Node, error) {
	var dtos []protocol.NodeDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return nil, &DecodeError{Entity: "node list", Err: err}
	}
	nodes := make([]*Node, 0, len(dtos))
	for _, dto := range dtos {
		n, err := NodeFromDTO(dto)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// NodeFromDTO validates a wire node and converts it.
func NodeFromDTO(dto protocol.NodeDTO) (*Node, error) {
	if dto.ID == "" {
		return nil, missingField("node", "id")
	}

	isFolder := dto.Type == protocol.NodeTypeTree
	if dto.IsFolder != nil {
		isFolder = *dto.IsFolder
	}
	nodeType := dto.Type
	if nodeType == "" {
		nodeType = protocol.NodeTypeBlob
		if isFolder {
			nodeType = protocol.NodeTypeTree
		}
	}

	n := &Node{
		ID:       dto.ID,
		Parent:   dto.Parent,
		Name:     dto.Name,
		Type:     nodeType,
		IsFolder: isFolder,
		Created:  dto.Creation.Time,
		Modified: dto.Modification.Time,
	}
	if !isFolder {
		n.Size = dto.Size
		if dto.Mimetype != nil {
			m := *dto.Mimetype
			n.Mimetype = &m
		}
	}
	return n, nil
}
