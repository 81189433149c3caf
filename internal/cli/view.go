package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/roach88/kvq/internal/object"
)

// VersionView is the printable form of one object version.
type VersionView struct {
	Bucket       string              `json:"bucket"`
	Key          string              `json:"key"`
	VClock       string              `json:"vclock,omitempty"`
	ContentType  string              `json:"content_type,omitempty"`
	Value        json.RawMessage     `json:"value,omitempty"` // JSON payloads
	Text         string              `json:"text,omitempty"`  // other UTF-8 payloads
	Binary       []byte              `json:"binary,omitempty"`
	Meta         map[string]string   `json:"meta,omitempty"`
	Links        []LinkView          `json:"links,omitempty"`
	Indexes      map[string][]string `json:"indexes,omitempty"`
	AutoIndexes  []string            `json:"auto_indexes,omitempty"`
	LastModified string              `json:"last_modified,omitempty"`
	Deleted      bool                `json:"deleted,omitempty"`
	Conflicted   bool                `json:"conflicted,omitempty"`
}

// LinkView is the printable form of a link.
type LinkView struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Tag    string `json:"tag"`
}

func newVersionView(v *object.Version) VersionView {
	view := VersionView{
		Bucket:      v.Bucket,
		Key:         v.Key,
		VClock:      v.VClock,
		ContentType: v.ContentType,
		Deleted:     v.Deleted,
		Conflicted:  v.Conflicted,
	}
	switch {
	case v.IsJSON() && json.Valid(v.Data):
		view.Value = json.RawMessage(v.Data)
	case utf8.Valid(v.Data):
		view.Text = string(v.Data)
	default:
		view.Binary = v.Data
	}
	if len(v.Meta) > 0 {
		view.Meta = v.Meta
	}
	for _, l := range v.Links {
		view.Links = append(view.Links, LinkView(l))
	}
	if v.Indexes != nil {
		if m := v.Indexes.Materialize(); len(m) > 0 {
			view.Indexes = m
		}
		for _, f := range v.Indexes.AutoIndexes() {
			view.AutoIndexes = append(view.AutoIndexes, f.String())
		}
	}
	if !v.LastModified.IsZero() {
		view.LastModified = v.LastModified.UTC().Format(time.RFC3339)
	}
	return view
}

func (v VersionView) payload() string {
	switch {
	case v.Value != nil:
		return string(v.Value)
	case v.Binary != nil:
		return fmt.Sprintf("<%d bytes>", len(v.Binary))
	default:
		return v.Text
	}
}

func (v VersionView) writeDetails(w io.Writer, indent string) {
	if v.VClock != "" {
		fmt.Fprintf(w, "%svclock: %s\n", indent, v.VClock)
	}
	if v.ContentType != "" {
		fmt.Fprintf(w, "%scontent-type: %s\n", indent, v.ContentType)
	}
	if v.LastModified != "" {
		fmt.Fprintf(w, "%slast-modified: %s\n", indent, v.LastModified)
	}
	for _, k := range sortedMapKeys(v.Meta) {
		fmt.Fprintf(w, "%smeta %s: %s\n", indent, k, v.Meta[k])
	}
	for _, k := range sortedMapKeys(v.Indexes) {
		fmt.Fprintf(w, "%sindex %s: %s\n", indent, k, strings.Join(v.Indexes[k], ", "))
	}
	if len(v.AutoIndexes) > 0 {
		fmt.Fprintf(w, "%sauto-index: %s\n", indent, strings.Join(v.AutoIndexes, ", "))
	}
	for _, l := range v.Links {
		fmt.Fprintf(w, "%slink: %s/%s [%s]\n", indent, l.Bucket, l.Key, l.Tag)
	}
}

// FetchResult is the output of get.
type FetchResult struct {
	Bucket     string        `json:"bucket"`
	Key        string        `json:"key"`
	Found      bool          `json:"found"`
	Conflicted bool          `json:"conflicted"`
	Siblings   []VersionView `json:"siblings"`
}

func newFetchResult(sibs *object.Siblings) FetchResult {
	res := FetchResult{
		Bucket:     sibs.Bucket,
		Key:        sibs.Key,
		Found:      sibs.Exists(),
		Conflicted: sibs.Conflicted(),
		Siblings:   []VersionView{},
	}
	for _, v := range sibs.All() {
		res.Siblings = append(res.Siblings, newVersionView(v))
	}
	return res
}

// WriteText prints the payload of a single version, or every sibling.
func (r FetchResult) WriteText(w io.Writer, verbose bool) error {
	switch len(r.Siblings) {
	case 0:
		_, err := fmt.Fprintf(w, "not found: %s/%s\n", r.Bucket, r.Key)
		return err
	case 1:
		if verbose {
			r.Siblings[0].writeDetails(w, "")
		}
		_, err := fmt.Fprintln(w, r.Siblings[0].payload())
		return err
	}

	fmt.Fprintf(w, "%s/%s has %d siblings\n", r.Bucket, r.Key, len(r.Siblings))
	for i, v := range r.Siblings {
		fmt.Fprintf(w, "[%d] %s\n", i, v.payload())
		if verbose {
			v.writeDetails(w, "    ")
		}
	}
	return nil
}

// StoreResult is the output of put and resolve.
type StoreResult struct {
	VersionView
}

// WriteText prints where the object went and whether siblings remain.
func (r StoreResult) WriteText(w io.Writer, verbose bool) error {
	fmt.Fprintf(w, "stored %s/%s\n", r.Bucket, r.Key)
	if r.Conflicted {
		fmt.Fprintln(w, "warning: the key now has siblings; fetch and resolve them")
	}
	if verbose {
		r.writeDetails(w, "  ")
	}
	return nil
}

func sortedMapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
