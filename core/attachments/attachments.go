package attachments

import (
	"encoding/json"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/gofrs/uuid/v5"
)

// SourceKind tags where an attachment value came from.
type SourceKind string

const (
	KindPath    SourceKind = "path"
	KindURL     SourceKind = "url"
	KindPending SourceKind = "pendingUpload"
)

// Attachment is the uniform descriptor every upstream shape is reduced to.
// URL is empty when the value could not be resolved.
type Attachment struct {
	Label string     `json:"label"`
	URL   string     `json:"url,omitempty"`
	Kind  SourceKind `json:"kind"`
}

// PendingFile is an in-memory file that has not been uploaded yet.
type PendingFile struct {
	Name string
	Data []byte
}

// Resolver turns heterogeneous attachment values into []Attachment.
// Handles for pending files are cached so repeated renders of the same
// file reuse one ephemeral reference instead of leaking a new one.
type Resolver struct {
	storageBase string

	mu      sync.Mutex
	handles map[*PendingFile]string
}

func NewResolver(storageBase string) *Resolver {
	return &Resolver{
		storageBase: strings.TrimRight(strings.TrimSpace(storageBase), "/"),
		handles:     map[*PendingFile]string{},
	}
}

// Normalize flattens val and resolves every element.
func (r *Resolver) Normalize(val any) []Attachment {
	items := Flatten(val)
	if len(items) == 0 {
		return nil
	}
	out := make([]Attachment, 0, len(items))
	for _, item := range items {
		out = append(out, r.Resolve(item))
	}
	return out
}

// Flatten accepts an array, a JSON-encoded array string, a comma list,
// a map, or a single value, and produces a flat ordered list.
func Flatten(val any) []any {
	switch v := val.(type) {
	case nil:
		return nil
	case []any:
		var out []any
		for _, item := range v {
			out = append(out, Flatten(item)...)
		}
		return out
	case []string:
		var out []any
		for _, item := range v {
			out = append(out, Flatten(item)...)
		}
		return out
	case []*PendingFile:
		var out []any
		for _, item := range v {
			if item != nil {
				out = append(out, item)
			}
		}
		return out
	case map[string]any:
		// Map shapes carry the useful value under a handful of keys;
		// anything else is treated as a bag of values in key order.
		for _, key := range []string{"url", "path", "file", "name"} {
			if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
				return []any{s}
			}
		}
		var out []any
		for _, item := range v {
			out = append(out, Flatten(item)...)
		}
		return out
	case string:
		clean := strings.TrimSpace(v)
		if clean == "" {
			return nil
		}
		if strings.HasPrefix(clean, "[") {
			var arr []any
			if err := json.Unmarshal([]byte(clean), &arr); err == nil {
				return Flatten(arr)
			}
		}
		if strings.Contains(clean, ",") && !isURL(clean) {
			var out []any
			for _, part := range strings.Split(clean, ",") {
				if p := strings.TrimSpace(part); p != "" {
					out = append(out, p)
				}
			}
			return out
		}
		return []any{clean}
	default:
		return []any{val}
	}
}

// Resolve maps one flattened element to a display label and a
// dereferenceable URL.
func (r *Resolver) Resolve(item any) Attachment {
	switch v := item.(type) {
	case *PendingFile:
		return Attachment{Label: v.Name, URL: r.pendingHandle(v), Kind: KindPending}
	case Attachment:
		return v
	case string:
		clean := strings.TrimSpace(v)
		if isURL(clean) {
			return Attachment{Label: labelFromPath(clean), URL: clean, Kind: KindURL}
		}
		return Attachment{Label: labelFromPath(clean), URL: r.pathURL(clean), Kind: KindPath}
	default:
		return Attachment{Label: "attachment", Kind: KindPath}
	}
}

// ReleasePending drops the cached handle for a pending file once it has
// been uploaded for real.
func (r *Resolver) ReleasePending(f *PendingFile) {
	if f == nil {
		return
	}
	r.mu.Lock()
	delete(r.handles, f)
	r.mu.Unlock()
}

func (r *Resolver) pendingHandle(f *PendingFile) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[f]; ok {
		return h
	}
	h := "mem://" + uuid.Must(uuid.NewV4()).String()
	r.handles[f] = h
	return h
}

func (r *Resolver) pathURL(p string) string {
	if r == nil || r.storageBase == "" {
		return ""
	}
	segments := strings.Split(strings.TrimLeft(p, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return r.storageBase + "/" + strings.Join(segments, "/")
}

func labelFromPath(p string) string {
	base := path.Base(strings.TrimRight(p, "/"))
	if unescaped, err := url.PathUnescape(base); err == nil && unescaped != "" {
		base = unescaped
	}
	if idx := strings.IndexAny(base, "?#"); idx > 0 {
		base = base[:idx]
	}
	if base == "" || base == "." || base == "/" {
		return p
	}
	return base
}

func isURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
