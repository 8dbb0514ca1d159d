package actors

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Entry is one row of the actor directory. AreaID is zero for HQ-wide
// staff.
type Entry struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	AreaID      int64  `json:"area_id,omitempty"`
}

// Directory maps raw actor references to display labels. It is seeded
// from two auxiliary lookups: a global HQ-staff-by-id map and per-area
// officer lists.
type Directory struct {
	mu       sync.RWMutex
	hqByID   map[int64]Entry
	officers map[int64]map[int64]Entry // areaID -> officerID -> entry
}

func NewDirectory() *Directory {
	return &Directory{
		hqByID:   map[int64]Entry{},
		officers: map[int64]map[int64]Entry{},
	}
}

// ReplaceHQStaff swaps the HQ-wide staff map wholesale.
func (d *Directory) ReplaceHQStaff(entries []Entry) {
	next := make(map[int64]Entry, len(entries))
	for _, e := range entries {
		if e.ID != 0 && strings.TrimSpace(e.DisplayName) != "" {
			e.AreaID = 0
			next[e.ID] = e
		}
	}
	d.mu.Lock()
	d.hqByID = next
	d.mu.Unlock()
}

// ReplaceAreaOfficers swaps one area's officer list atomically.
func (d *Directory) ReplaceAreaOfficers(areaID int64, entries []Entry) {
	next := make(map[int64]Entry, len(entries))
	for _, e := range entries {
		if e.ID != 0 && strings.TrimSpace(e.DisplayName) != "" {
			e.AreaID = areaID
			next[e.ID] = e
		}
	}
	d.mu.Lock()
	d.officers[areaID] = next
	d.mu.Unlock()
}

func (d *Directory) AreaOfficers(areaID int64) []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, 0, len(d.officers[areaID]))
	for _, e := range d.officers[areaID] {
		out = append(out, e)
	}
	return out
}

func (d *Directory) HQStaff() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, 0, len(d.hqByID))
	for _, e := range d.hqByID {
		out = append(out, e)
	}
	return out
}

// Lookup finds an actor by id, preferring the given area's officer list
// over the HQ-wide map.
func (d *Directory) Lookup(id, areaID int64) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if area, ok := d.officers[areaID]; ok {
		if e, ok := area[id]; ok {
			return e, true
		}
	}
	for _, area := range d.officers {
		if e, ok := area[id]; ok {
			return e, true
		}
	}
	e, ok := d.hqByID[id]
	return e, ok
}

// Raw references arrive as numeric ids, ids buried in free text, or
// already-resolved names. The first matching pattern wins.
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*(\d+)\s*$`),
	regexp.MustCompile(`(?i)user_id\s*[=:]\s*(\d+)`),
	regexp.MustCompile(`(?i)\bid\s*[:=]\s*(\d+)`),
	regexp.MustCompile(`\(\s*(\d+)\s*\)`),
	// last resort: any bare digit run, as in "officer 42"
	regexp.MustCompile(`(\d+)`),
}

// ExtractID pulls a candidate numeric id out of a raw reference.
func ExtractID(raw string) (int64, bool) {
	for _, re := range idPatterns {
		if m := re.FindStringSubmatch(raw); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil && id > 0 {
				return id, true
			}
		}
	}
	return 0, false
}

// Resolve renders a raw actor reference as a human-readable label.
// Unresolvable ids become "User <id>"; text with no extractable id is
// presumed to already be a name and is returned verbatim.
func (d *Directory) Resolve(raw string, areaID int64) string {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return ""
	}
	id, ok := ExtractID(clean)
	if !ok {
		return clean
	}
	if e, found := d.Lookup(id, areaID); found {
		return fmt.Sprintf("%s (id:%d)", e.DisplayName, e.ID)
	}
	return fmt.Sprintf("User %d", id)
}

// ResolveID renders an actor known only by numeric id.
func (d *Directory) ResolveID(id, areaID int64) string {
	if id <= 0 {
		return ""
	}
	return d.Resolve(strconv.FormatInt(id, 10), areaID)
}
