package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

// PropertyKind discriminates the value held by a Property.
type PropertyKind uint8

// Supported property variants.
const (
	PropertyScalar PropertyKind = iota
	PropertyMedia
	PropertyMediaList
)

// Property is a tagged value attached to a Media object. The variant is
// resolved once when the property is constructed, so the storage walk never
// needs runtime type inspection.
type Property struct {
	kind   PropertyKind
	scalar any
	media  *Media
	list   []*Media
}

// ScalarProperty wraps a plain value.
func ScalarProperty(v any) Property {
	return Property{kind: PropertyScalar, scalar: v}
}

// MediaProperty wraps a single nested Media object.
func MediaProperty(m *Media) Property {
	return Property{kind: PropertyMedia, media: m}
}

// MediaListProperty wraps an ordered sequence of Media objects.
func MediaListProperty(ms ...*Media) Property {
	return Property{kind: PropertyMediaList, list: ms}
}

// Kind returns the variant tag.
func (p Property) Kind() PropertyKind { return p.kind }

// Scalar returns the wrapped scalar value, or nil for media variants.
func (p Property) Scalar() any { return p.scalar }

// propertyJSON is the wire form used when a durable state store persists a
// record; the kind tag survives the round trip so the storage walk still
// never inspects types.
type propertyJSON struct {
	Kind  string   `json:"kind"`
	Value any      `json:"value"`
	Media *Media   `json:"media,omitempty"`
	List  []*Media `json:"list,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p Property) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case PropertyMedia:
		return json.Marshal(propertyJSON{Kind: "media", Media: p.media})
	case PropertyMediaList:
		return json.Marshal(propertyJSON{Kind: "list", List: p.list})
	default:
		return json.Marshal(propertyJSON{Kind: "scalar", Value: p.scalar})
	}
}

// UnmarshalJSON implements json.Unmarshaler. Scalar values pass through
// encoding/json, so numbers come back as float64 and structured values as
// generic maps.
func (p *Property) UnmarshalJSON(data []byte) error {
	var raw propertyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case "scalar":
		*p = ScalarProperty(raw.Value)
	case "media":
		*p = MediaProperty(raw.Media)
	case "list":
		*p = MediaListProperty(raw.List...)
	default:
		return fmt.Errorf("unknown property kind %q", raw.Kind)
	}
	return nil
}

// Media represents one storable binary artifact plus arbitrary named
// properties, some of which may themselves hold Media.
type Media struct {
	// ID is a stable identity used to deduplicate media across merges.
	ID string `json:"id"`
	// Filename points at a scratch file under the record's working dir.
	Filename string `json:"filename,omitempty"`
	// Bytes optionally holds buffer-backed content instead of a file.
	// Content is never persisted by state stores; StorageURL is the
	// durable locator once a Storage has run.
	Bytes []byte `json:"-"`
	// MimeType describes the content, when known.
	MimeType string `json:"mime_type,omitempty"`
	// StorageURL is the final locator; unset until a Storage stores it.
	StorageURL string `json:"storage_url,omitempty"`

	Properties map[string]Property `json:"properties,omitempty"`
}

// NewMedia creates a Media backed by a scratch file.
func NewMedia(filename string) *Media {
	return &Media{
		ID:         uuid.NewString(),
		Filename:   filename,
		Properties: make(map[string]Property),
	}
}

// NewBufferMedia creates a Media backed by an in-memory buffer.
func NewBufferMedia(name string, data []byte) *Media {
	m := NewMedia(name)
	m.Bytes = append([]byte(nil), data...)
	return m
}

// Set attaches a property, replacing any previous value under key.
func (m *Media) Set(key string, p Property) *Media {
	if m.Properties == nil {
		m.Properties = make(map[string]Property)
	}
	m.Properties[key] = p
	return m
}

// Get returns the property stored under key.
func (m *Media) Get(key string) (Property, bool) {
	p, ok := m.Properties[key]
	return p, ok
}

// NestedMedia returns every Media reachable through this object's
// properties, exactly one level deep. The receiver itself is not included
// and nested results are not re-scanned.
func (m *Media) NestedMedia() []*Media {
	var out []*Media
	for _, p := range m.Properties {
		switch p.kind {
		case PropertyMedia:
			if p.media != nil {
				out = append(out, p.media)
			}
		case PropertyMediaList:
			out = append(out, p.list...)
		}
	}
	return out
}

// Stored reports whether a Storage has assigned a final locator.
func (m *Media) Stored() bool { return m.StorageURL != "" }

// Open returns a reader over the media content, preferring the in-memory
// buffer over the scratch file.
func (m *Media) Open() (io.ReadCloser, error) {
	if m.Bytes != nil {
		return io.NopCloser(bytes.NewReader(m.Bytes)), nil
	}
	if m.Filename == "" {
		return nil, fmt.Errorf("media %s has no content", m.ID)
	}
	f, err := os.Open(m.Filename)
	if err != nil {
		return nil, fmt.Errorf("open media file: %w", err)
	}
	return f, nil
}
