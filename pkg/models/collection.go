package models

import (
	"encoding/json"

	"github.com/fruitsalade/storeclient/pkg/protocol"
)

// Collection is one page of a paginated listing.
type Collection[T any] struct {
	Limit  int
	Offset int
	Size   int // total items across all pages
	Values []T
}

// HasMore reports whether items exist past this page.
func (c *Collection[T]) HasMore() bool {
	return c.Offset+len(c.Values) < c.Size
}

// NextOffset returns the offset of the page following this one.
func (c *Collection[T]) NextOffset() int {
	return c.Offset + len(c.Values)
}

// DecodeCollection decodes a collection envelope, converting each value with
// decode. Missing values decode to an empty, non-nil slice.
func DecodeCollection[T any](data []byte, decode func(json.RawMessage) (T, error)) (*Collection[T], error) {
	var dto protocol.CollectionDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, &DecodeError{Entity: "collection", Err: err}
	}

	c := &Collection[T]{
		Limit:  dto.Limit,
		Offset: dto.Offset,
		Size:   dto.Size,
		Values: make([]T, 0, len(dto.Values)),
	}
	for _, raw := range dto.Values {
		v, err := decode(raw)
		if err != nil {
			return nil, err
		}
		c.Values = append(c.Values, v)
	}
	if c.Limit > 0 && len(c.Values) > c.Limit {
		c.Values = c.Values[:c.Limit]
	}
	return c, nil
}

// DecodeNodeCollection decodes a page of child nodes.
func DecodeNodeCollection(data []byte) (*Collection[*Node], error) {
	return DecodeCollection(data, func(raw json.RawMessage) (*Node, error) {
		return DecodeNode(raw)
	})
}
