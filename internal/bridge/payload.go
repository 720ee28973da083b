// Package bridge moves selections between two independently loaded trees.
//
// A drag out of one tree is serialized under a private MIME type; the
// receiving tree decodes it, checks that it can accept it and hands the
// items to the copy engine. Native OS drags never carry the private key and
// are routed to the foreign-drop handler instead.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fruitsalade/linkdrop/internal/copier"
)

// MIMEType is the private data-transfer key for bridge payloads.
const MIMEType = "application/x-linkdrop-tree-items"

var (
	// ErrNoPayload means the data transfer does not carry a bridge payload.
	ErrNoPayload = errors.New("no tree payload")
	// ErrInvalidPayload means the payload is present but malformed.
	ErrInvalidPayload = errors.New("invalid tree payload")
	// ErrRejected means the receiving tree does not accept the payload.
	ErrRejected = errors.New("drop rejected")
)

// TreeType is the kind of tree a payload comes from or is dropped on.
type TreeType string

const (
	TreeLink      TreeType = "link"
	TreeWorkspace TreeType = "workspace"
)

// Operation is what the receiver should do with the items.
type Operation string

const OpCopy Operation = "copy"

// Item is one dragged node.
type Item struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Type copier.ItemType `json:"type"`
}

// Payload is the serialized selection.
type Payload struct {
	SourceTreeID string    `json:"sourceTreeId"`
	SourceType   TreeType  `json:"sourceType"`
	SourceLinkID string    `json:"sourceLinkId,omitempty"`
	Items        []Item    `json:"items"`
	Operation    Operation `json:"operation"`
}

// Validate checks the payload's shape.
func (p *Payload) Validate() error {
	if p.SourceTreeID == "" {
		return fmt.Errorf("%w: missing source tree", ErrInvalidPayload)
	}
	switch p.SourceType {
	case TreeLink:
		if p.SourceLinkID == "" {
			return fmt.Errorf("%w: link payload without link id", ErrInvalidPayload)
		}
	case TreeWorkspace:
	default:
		return fmt.Errorf("%w: unknown source type %q", ErrInvalidPayload, p.SourceType)
	}
	if p.Operation != OpCopy {
		return fmt.Errorf("%w: unsupported operation %q", ErrInvalidPayload, p.Operation)
	}
	if len(p.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidPayload)
	}
	for _, it := range p.Items {
		if it.ID == "" || (it.Type != copier.ItemFile && it.Type != copier.ItemFolder) {
			return fmt.Errorf("%w: bad item %+v", ErrInvalidPayload, it)
		}
	}
	return nil
}

// CopyItems converts the payload items for the copy engine.
func (p *Payload) CopyItems() []copier.Item {
	out := make([]copier.Item, len(p.Items))
	for i, it := range p.Items {
		out[i] = copier.Item{ID: it.ID, Type: it.Type}
	}
	return out
}

// DataTransfer maps MIME types to string data, like a drag event's
// dataTransfer store.
type DataTransfer map[string]string

// Encode serializes p under MIMEType.
func Encode(p Payload) (DataTransfer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return DataTransfer{MIMEType: string(data)}, nil
}

// Decode extracts and validates a payload. Only MIMEType is consulted.
func Decode(dt DataTransfer) (*Payload, error) {
	raw, ok := dt[MIMEType]
	if !ok {
		return nil, ErrNoPayload
	}
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
