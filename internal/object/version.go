// Package object holds the version model of a stored value: one Version per
// sibling, grouped into a Siblings set by fetch.
package object

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/roach88/kvq/internal/index"
)

// Content types used for payloads.
const (
	ContentTypeJSON   = "application/json"
	ContentTypeBinary = "application/octet-stream"
)

// UntaggedLink is the tag a link carries when none is given.
const UntaggedLink = "_"

// Link is a typed edge from one object to another.
type Link struct {
	Bucket string
	Key    string
	Tag    string
}

// NewLink returns a link to bucket/key. An empty tag becomes UntaggedLink.
func NewLink(bucket, key, tag string) Link {
	if tag == "" {
		tag = UntaggedLink
	}
	return Link{Bucket: bucket, Key: key, Tag: tag}
}

// Version is one stored value of a key with its causality token.
type Version struct {
	Bucket string
	// Key is empty until the server assigns one.
	Key string

	Data        []byte
	ContentType string

	// VClock is the opaque causality token issued on read.
	VClock string

	// Meta keys are lower case; see SetMeta.
	Meta map[string]string

	Indexes *index.Set
	Links   []Link

	// Read-only, decoded from responses.
	LastModified time.Time
	ETag         string
	Deleted      bool

	// Conflicted is set when a store left the key with several siblings.
	Conflicted bool
}

// New returns an empty Version for bucket/key.
func New(bucket, key string) *Version {
	return &Version{
		Bucket:  bucket,
		Key:     key,
		Meta:    make(map[string]string),
		Indexes: index.NewSet(),
	}
}

// Exists reports whether the version was read from or written to the store.
func (v *Version) Exists() bool {
	return v != nil && (v.VClock != "" || len(v.Data) > 0)
}

// SetJSON marshals x as the payload and sets the JSON content type.
func (v *Version) SetJSON(x any) error {
	data, err := json.Marshal(x)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	v.Data = data
	v.ContentType = ContentTypeJSON
	return nil
}

// DecodeJSON unmarshals the payload into out.
func (v *Version) DecodeJSON(out any) error {
	if err := json.Unmarshal(v.Data, out); err != nil {
		return fmt.Errorf("decode payload of %s/%s: %w", v.Bucket, v.Key, err)
	}
	return nil
}

// SetData sets a raw payload and its content type.
func (v *Version) SetData(data []byte, contentType string) {
	v.Data = data
	v.ContentType = contentType
}

// IsJSON reports whether the payload is declared as JSON.
func (v *Version) IsJSON() bool {
	ct, _, _ := strings.Cut(v.ContentType, ";")
	return strings.EqualFold(strings.TrimSpace(ct), ContentTypeJSON)
}

// SetMeta sets a metadata entry. Keys are case-insensitive on the wire and
// stored normalized.
func (v *Version) SetMeta(key, value string) {
	if v.Meta == nil {
		v.Meta = make(map[string]string)
	}
	v.Meta[normalizeMetaKey(key)] = value
}

// GetMeta returns a metadata entry.
func (v *Version) GetMeta(key string) (string, bool) {
	val, ok := v.Meta[normalizeMetaKey(key)]
	return val, ok
}

// RemoveMeta deletes a metadata entry.
func (v *Version) RemoveMeta(key string) {
	delete(v.Meta, normalizeMetaKey(key))
}

func normalizeMetaKey(key string) string {
	return index.NormalizeName(key)
}

// AddLink appends a link unless an identical one is present.
func (v *Version) AddLink(l Link) {
	if l.Tag == "" {
		l.Tag = UntaggedLink
	}
	if slices.Contains(v.Links, l) {
		return
	}
	v.Links = append(v.Links, l)
}

// RemoveLink removes every link equal to l.
func (v *Version) RemoveLink(l Link) {
	if l.Tag == "" {
		l.Tag = UntaggedLink
	}
	v.Links = slices.DeleteFunc(v.Links, func(x Link) bool { return x == l })
}

// Clone returns a deep copy of v.
func (v *Version) Clone() *Version {
	cp := *v
	cp.Data = slices.Clone(v.Data)
	cp.Meta = maps.Clone(v.Meta)
	cp.Links = slices.Clone(v.Links)
	if v.Indexes != nil {
		cp.Indexes = v.Indexes.Clone()
	}
	return &cp
}
