package activity

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"kestrel-irp/core/attachments"
)

type ActorType string

const (
	ActorArea   ActorType = "AREA"
	ActorHQ     ActorType = "HQ"
	ActorSystem ActorType = "SYSTEM"
)

func ParseActorType(raw string) ActorType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "AREA", "NODAL", "OFFICER":
		return ActorArea
	case "HQ", "SAFETY", "STAFF":
		return ActorHQ
	default:
		return ActorSystem
	}
}

// LocalIDPrefix marks activities synthesized client-side after a
// successful mutation, before the next authoritative refetch.
const LocalIDPrefix = "local-"

// Activity is one canonical event in a complaint's history.
type Activity struct {
	ID          string                   `json:"id,omitempty"`
	ActorID     string                   `json:"actor_id,omitempty"`
	ActorType   ActorType                `json:"actor_type"`
	Type        string                   `json:"activity_type"`
	Description string                   `json:"description,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	Attachments []attachments.Attachment `json:"attachments,omitempty"`
}

func (a Activity) IsLocal() bool {
	return strings.HasPrefix(a.ID, LocalIDPrefix)
}

const signatureDescLen = 200

// Signature identifies an event independently of the server-side
// aggregation path that returned it. The description is truncated on a
// rune boundary so a multibyte character straddling the cutoff is never
// half-kept.
func (a Activity) Signature() string {
	desc := a.Description
	if len(desc) > signatureDescLen {
		cut := signatureDescLen
		for cut > 0 && !utf8.RuneStart(desc[cut]) {
			cut--
		}
		desc = desc[:cut]
	}
	return fmt.Sprintf("%d|%s|%s", a.CreatedAt.Unix(), a.Type, desc)
}

// Upstream records use inconsistent field names; each logical field has
// an ordered candidate-key list and the first present key wins.
var (
	idKeys          = []string{"id", "activityid", "activity_id", "_id"}
	actorKeys       = []string{"actorid", "actor_id", "userid", "user_id", "createdby", "created_by", "actor"}
	actorTypeKeys   = []string{"actortype", "actor_type", "role", "source"}
	typeKeys        = []string{"activitytype", "activity_type", "type", "action", "event_type"}
	descriptionKeys = []string{"description", "remarks", "note", "notes", "message", "comment"}
	createdAtKeys   = []string{"createdat", "created_at", "timestamp", "createdon", "created_on", "event_at", "date"}
	attachmentKeys  = []string{"attachments", "attachment", "files", "file", "uploads", "upload", "docs"}
)

// Normalizer converts raw upstream activity records into canonical,
// newest-first, deduplicated activities.
type Normalizer struct {
	atts *attachments.Resolver
}

func NewNormalizer(r *attachments.Resolver) *Normalizer {
	return &Normalizer{atts: r}
}

// Normalize extracts, sorts newest-first and deduplicates.
func (n *Normalizer) Normalize(raw []map[string]any) []Activity {
	out := make([]Activity, 0, len(raw))
	for _, rec := range raw {
		if rec == nil {
			continue
		}
		out = append(out, n.FromRecord(rec))
	}
	SortNewestFirst(out)
	return Dedupe(out)
}

// FromRecord maps one raw record to a canonical Activity.
func (n *Normalizer) FromRecord(rec map[string]any) Activity {
	act := Activity{
		ID:          StringField(rec, idKeys),
		ActorID:     StringField(rec, actorKeys),
		ActorType:   ParseActorType(StringField(rec, actorTypeKeys)),
		Type:        strings.ToUpper(strings.TrimSpace(StringField(rec, typeKeys))),
		Description: strings.TrimSpace(StringField(rec, descriptionKeys)),
		CreatedAt:   ParseTimestamp(Field(rec, createdAtKeys)),
	}
	if n.atts != nil {
		act.Attachments = n.atts.Normalize(Field(rec, attachmentKeys))
	}
	return act
}

// Field returns the first candidate key present in rec, also accepting
// case variants; upstream payloads mix naming conventions freely.
func Field(rec map[string]any, keys []string) any {
	for _, key := range keys {
		if v, ok := rec[key]; ok && v != nil {
			return v
		}
	}
	// Upstream occasionally mixes cases in the same payload.
	lower := make(map[string]any, len(rec))
	for k, v := range rec {
		lower[strings.ToLower(k)] = v
	}
	for _, key := range keys {
		if v, ok := lower[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func StringField(rec map[string]any, keys []string) string {
	switch v := Field(rec, keys).(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

// ParseTimestamp parses the shapes the backend emits. Unparsable values
// return the zero time so they sort as oldest.
func ParseTimestamp(val any) time.Time {
	switch v := val.(type) {
	case nil:
		return time.Time{}
	case time.Time:
		return v.UTC()
	case float64:
		return epochToTime(int64(v))
	case int64:
		return epochToTime(v)
	case string:
		clean := strings.TrimSpace(v)
		if clean == "" {
			return time.Time{}
		}
		if n, err := strconv.ParseInt(clean, 10, 64); err == nil {
			return epochToTime(n)
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, clean); err == nil {
				return ts.UTC()
			}
		}
		return time.Time{}
	default:
		return time.Time{}
	}
}

func epochToTime(n int64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	if n > 1e12 { // milliseconds
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func SortNewestFirst(list []Activity) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

// Dedupe removes duplicates from a sorted list: by id when the record
// carries a stable one, by signature otherwise. Overlapping server-side
// views return the same event under different shapes; the signature
// catches those.
func Dedupe(list []Activity) []Activity {
	seenIDs := map[string]struct{}{}
	seenSigs := map[string]struct{}{}
	out := list[:0]
	for _, act := range list {
		if act.ID != "" && !act.IsLocal() {
			if _, dup := seenIDs[act.ID]; dup {
				continue
			}
			seenIDs[act.ID] = struct{}{}
		}
		sig := act.Signature()
		if _, dup := seenSigs[sig]; dup {
			continue
		}
		seenSigs[sig] = struct{}{}
		out = append(out, act)
	}
	return out
}

// SignatureSet returns the set of signatures in a list.
func SignatureSet(list []Activity) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, act := range list {
		out[act.Signature()] = struct{}{}
	}
	return out
}

// SubsetSuppressed reports whether the broader view duplicates the
// narrower one and should not be rendered alongside it.
func SubsetSuppressed(narrow, broad []Activity) bool {
	if len(broad) == 0 {
		return true
	}
	narrowSigs := SignatureSet(narrow)
	for _, act := range broad {
		if _, ok := narrowSigs[act.Signature()]; !ok {
			return false
		}
	}
	return true
}

// Merge reconciles an authoritative server history with locally
// synthesized entries: a local entry whose signature already appears in
// the server list is absorbed by its confirmed twin.
func Merge(server, local []Activity) []Activity {
	serverSigs := SignatureSet(server)
	merged := append([]Activity{}, server...)
	for _, act := range local {
		if _, confirmed := serverSigs[act.Signature()]; confirmed {
			continue
		}
		merged = append(merged, act)
	}
	SortNewestFirst(merged)
	return Dedupe(merged)
}

// SynthesizeActionTaken builds the single fallback activity used when a
// complaint has no history but carries a legacy "action taken" field.
func SynthesizeActionTaken(text string, atts []attachments.Attachment, at time.Time) Activity {
	return Activity{
		ActorType:   ActorSystem,
		Type:        "HQ_CLOSE_ACTION",
		Description: strings.TrimSpace(text),
		CreatedAt:   at.UTC(),
		Attachments: atts,
	}
}
