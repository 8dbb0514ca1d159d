package directory

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"kestrel-irp/config"
	"kestrel-irp/core/activity"
	"kestrel-irp/core/actors"
	"kestrel-irp/core/store"
	"kestrel-irp/core/upstream"
	"kestrel-irp/core/utils"
)

var (
	entryIDKeys   = []string{"id", "user_id", "userid", "value"}
	entryNameKeys = []string{"name", "display_name", "displayname", "fullname", "label", "username"}
	entryAreaKeys = []string{"areaid", "area_id", "area"}
)

// Refresher keeps the actor directory synced with the backend lookup
// endpoints on a cron schedule, persisting each snapshot so the portal
// can resolve names before the first refresh after a restart.
type Refresher struct {
	cfg    config.DirectoryConfig
	up     upstream.API
	dir    *actors.Directory
	db     store.DirectoryStore
	logger *utils.Logger
	sched  *cron.Cron
}

func NewRefresher(cfg config.DirectoryConfig, up upstream.API, dir *actors.Directory, db store.DirectoryStore, logger *utils.Logger) *Refresher {
	return &Refresher{cfg: cfg, up: up, dir: dir, db: db, logger: logger}
}

// Warm loads the last persisted snapshot into the in-memory directory.
func (r *Refresher) Warm(ctx context.Context) error {
	hq, err := r.db.ListHQStaff(ctx)
	if err != nil {
		return err
	}
	r.dir.ReplaceHQStaff(hq)
	areas, err := r.db.ListAreas(ctx)
	if err != nil {
		return err
	}
	for _, areaID := range areas {
		officers, err := r.db.ListAreaOfficers(ctx, areaID)
		if err != nil {
			return err
		}
		r.dir.ReplaceAreaOfficers(areaID, officers)
	}
	return nil
}

func (r *Refresher) Start() error {
	if !r.cfg.Enabled {
		return nil
	}
	spec := strings.TrimSpace(r.cfg.RefreshSpec)
	if spec == "" {
		spec = "@every 15m"
	}
	r.sched = cron.New()
	if _, err := r.sched.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := r.RefreshOnce(ctx); err != nil {
			r.logger.Errorf("DIRECTORY refresh failed: %v", err)
		}
	}); err != nil {
		return err
	}
	r.sched.Start()
	r.logger.Printf("DIRECTORY refresher started (%s)", spec)
	return nil
}

func (r *Refresher) Stop() {
	if r.sched != nil {
		r.sched.Stop()
	}
}

// RefreshOnce pulls every lookup the backend exposes and swaps in the
// result. A per-area failure skips that area so the rest still lands.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	hqRecords, err := r.up.ListHQStaff(ctx)
	if err != nil {
		return err
	}
	hq := toEntries(hqRecords, 0)
	r.dir.ReplaceHQStaff(hq)
	if err := r.db.ReplaceHQStaff(ctx, hq); err != nil {
		r.logger.Errorf("DIRECTORY persist hq staff: %v", err)
	}
	for _, areaID := range r.cfg.Areas {
		records, err := r.up.ListAreaOfficers(ctx, areaID)
		if err != nil {
			r.logger.Errorf("DIRECTORY area %d fetch failed: %v", areaID, err)
			continue
		}
		officers := toEntries(records, areaID)
		r.dir.ReplaceAreaOfficers(areaID, officers)
		if err := r.db.ReplaceAreaOfficers(ctx, areaID, officers); err != nil {
			r.logger.Errorf("DIRECTORY persist area %d: %v", areaID, err)
		}
	}
	return nil
}

func toEntries(records []map[string]any, areaID int64) []actors.Entry {
	out := make([]actors.Entry, 0, len(records))
	for _, rec := range records {
		entry := actors.Entry{
			DisplayName: strings.TrimSpace(activity.StringField(rec, entryNameKeys)),
			AreaID:      areaID,
		}
		switch v := activity.Field(rec, entryIDKeys).(type) {
		case float64:
			entry.ID = int64(v)
		case string:
			if id, ok := actors.ExtractID(v); ok {
				entry.ID = id
			}
		}
		if area := activity.Field(rec, entryAreaKeys); area != nil {
			if n, ok := area.(float64); ok && n != 0 {
				entry.AreaID = int64(n)
			}
		}
		if entry.ID == 0 {
			continue
		}
		out = append(out, entry)
	}
	return out
}
