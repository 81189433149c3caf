package object

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/kvq/internal/index"
	"github.com/roach88/kvq/internal/kverr"
)

// Wire header names.
const (
	HeaderVClock   = "X-Riak-Vclock"
	HeaderClientID = "X-Riak-ClientId"
	HeaderDeleted  = "X-Riak-Deleted"
	HeaderMeta     = "X-Riak-Meta-"
)

// ValidateVClock checks that a causality token is well formed. Tokens are
// base64; anything else cannot have been issued by the store.
func ValidateVClock(vclock string) error {
	if vclock == "" {
		return nil
	}
	if _, err := base64.StdEncoding.DecodeString(vclock); err != nil {
		return kverr.Conflict("store", "malformed causality token: %v", err)
	}
	return nil
}

// EncodeHeaders builds the request headers for storing v. prefix is the
// object path prefix ("riak") used in link targets.
func EncodeHeaders(v *Version, prefix, clientID string) (http.Header, error) {
	if err := ValidateVClock(v.VClock); err != nil {
		return nil, err
	}

	h := http.Header{}
	ct := v.ContentType
	if ct == "" {
		ct = ContentTypeJSON
	}
	h.Set("Content-Type", ct)
	if v.VClock != "" {
		h.Set(HeaderVClock, v.VClock)
	}
	if clientID != "" {
		h.Set(HeaderClientID, clientID)
	}

	for k, val := range v.Meta {
		if k == index.MetaAutoIndex || k == index.MetaCollisions {
			continue
		}
		h[HeaderMeta+k] = []string{val}
	}

	if v.Indexes != nil {
		v.Indexes.WriteHeaders(h)
		auto, collisions := v.Indexes.AutoMeta()
		if auto != "" {
			h[HeaderMeta+index.MetaAutoIndex] = []string{auto}
		}
		if collisions != "" {
			h[HeaderMeta+index.MetaCollisions] = []string{collisions}
		}
	}

	if len(v.Links) > 0 {
		parts := make([]string, 0, len(v.Links))
		for _, l := range v.Links {
			parts = append(parts, formatLink(prefix, l))
		}
		h.Set("Link", strings.Join(parts, ", "))
	}
	return h, nil
}

func formatLink(prefix string, l Link) string {
	tag := l.Tag
	if tag == "" {
		tag = UntaggedLink
	}
	return fmt.Sprintf(`</%s/%s/%s>; riaktag="%s"`,
		prefix, url.PathEscape(l.Bucket), url.PathEscape(l.Key), url.QueryEscape(tag))
}

// ParseLinks extracts object links from a Link header. Links without a
// riaktag (such as the bucket's rel="up") are skipped.
//
// Targets are </prefix/bucket/key>, where prefix may span several path
// segments; bucket and key are the last two, since both are path-escaped.
func ParseLinks(header string) []Link {
	var out []Link
	for _, entry := range splitLinkHeader(header) {
		target, params, ok := strings.Cut(entry, ";")
		if !ok {
			continue
		}
		target = strings.TrimSpace(target)
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		segs := strings.Split(strings.Trim(target, "<>/"), "/")
		if len(segs) < 3 {
			continue
		}
		bucketSeg, keySeg := segs[len(segs)-2], segs[len(segs)-1]

		tag, found := "", false
		for _, p := range strings.Split(params, ";") {
			name, val, ok := strings.Cut(strings.TrimSpace(p), "=")
			if ok && strings.EqualFold(name, "riaktag") {
				tag, found = strings.Trim(val, `"`), true
			}
		}
		if !found {
			continue
		}

		bucket, err1 := url.PathUnescape(bucketSeg)
		key, err2 := url.PathUnescape(keySeg)
		tag, err3 := url.QueryUnescape(tag)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		out = append(out, Link{Bucket: bucket, Key: key, Tag: tag})
	}
	return out
}

// splitLinkHeader splits on commas outside of <...> and quoted strings.
func splitLinkHeader(header string) []string {
	var out []string
	var cur strings.Builder
	inAngle, inQuote := false, false
	for _, r := range header {
		switch {
		case r == '<' && !inQuote:
			inAngle = true
		case r == '>' && !inQuote:
			inAngle = false
		case r == '"' && !inAngle:
			inQuote = !inQuote
		case r == ',' && !inAngle && !inQuote:
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// DecodeVersion builds a Version from one response (or multipart part).
// vclock is the token shared by the whole response.
func DecodeVersion(bucket, key string, h http.Header, body []byte, vclock string) (*Version, error) {
	v := New(bucket, key)
	v.VClock = vclock
	v.Data = body
	v.ContentType = h.Get("Content-Type")
	v.ETag = strings.Trim(h.Get("Etag"), `"`)
	v.Deleted = strings.EqualFold(h.Get(HeaderDeleted), "true")
	if lm := h.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			v.LastModified = t.UTC()
		}
	}

	var auto, collisions string
	metaPrefix := strings.ToLower(HeaderMeta)
	for name, vals := range h {
		if !strings.HasPrefix(strings.ToLower(name), metaPrefix) || len(vals) == 0 {
			continue
		}
		mk := normalizeMetaKey(name[len(metaPrefix):])
		switch mk {
		case index.MetaAutoIndex:
			auto = vals[0]
		case index.MetaCollisions:
			collisions = vals[0]
		default:
			v.Meta[mk] = vals[0]
		}
	}

	set, err := index.Restore(index.ParseHeaders(h), auto, collisions, body)
	if err != nil {
		return nil, err
	}
	v.Indexes = set

	for _, line := range h.Values("Link") {
		v.Links = append(v.Links, ParseLinks(line)...)
	}
	return v, nil
}

// DecodeSiblings decodes a fetch response: 200 carries one version, 300 a
// multipart/mixed body with one part per sibling.
func DecodeSiblings(bucket, key string, status int, h http.Header, body []byte) (*Siblings, error) {
	vclock := h.Get(HeaderVClock)
	switch status {
	case http.StatusOK:
		v, err := DecodeVersion(bucket, key, h, body, vclock)
		if err != nil {
			return nil, err
		}
		return NewSiblings(bucket, key, v), nil
	case http.StatusMultipleChoices:
		versions, err := decodeMultipart(bucket, key, h, body, vclock)
		if err != nil {
			return nil, err
		}
		return NewSiblings(bucket, key, versions...), nil
	default:
		return nil, kverr.Status("fetch", status, body)
	}
}

func decodeMultipart(bucket, key string, h http.Header, body []byte, vclock string) ([]*Version, error) {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, kverr.Malformed("fetch", err, "sibling response is not multipart: %q", h.Get("Content-Type"))
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, kverr.Malformed("fetch", nil, "multipart response has no boundary")
	}

	r := multipart.NewReader(bytes.NewReader(body), boundary)
	var out []*Version
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, kverr.Malformed("fetch", err, "read sibling part %d", len(out))
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, kverr.Malformed("fetch", err, "read sibling part %d", len(out))
		}
		v, err := DecodeVersion(bucket, key, http.Header(part.Header), data, vclock)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, kverr.Malformed("fetch", nil, "multipart response has no parts")
	}
	return out, nil
}

// EncodeSiblings writes versions as a multipart/mixed body and returns the
// body and its Content-Type. It is the inverse of the 300 branch of
// DecodeSiblings.
func EncodeSiblings(versions []*Version, prefix string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, v := range versions {
		h, err := EncodeHeaders(&Version{
			ContentType: v.ContentType,
			Meta:        v.Meta,
			Indexes:     v.Indexes,
			Links:       v.Links,
		}, prefix, "")
		if err != nil {
			return nil, "", err
		}
		if !v.LastModified.IsZero() {
			h.Set("Last-Modified", FormatTime(v.LastModified))
		}
		if v.ETag != "" {
			h.Set("Etag", v.ETag)
		}
		if v.Deleted {
			h.Set(HeaderDeleted, "true")
		}
		pw, err := w.CreatePart(textproto.MIMEHeader(h))
		if err != nil {
			return nil, "", err
		}
		if _, err := pw.Write(v.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "multipart/mixed; boundary=" + w.Boundary(), nil
}

// FormatTime renders t the way the store does in Last-Modified.
func FormatTime(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
