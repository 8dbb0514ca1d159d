package complaints

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"kestrel-irp/core/activity"
	"kestrel-irp/core/actors"
	"kestrel-irp/core/attachments"
	"kestrel-irp/core/store"
	"kestrel-irp/core/upstream"
	"kestrel-irp/core/utils"
	"kestrel-irp/core/workflow"
)

// Actor is the authenticated user performing an operation. It is passed
// explicitly; the service keeps no ambient notion of "current user".
type Actor struct {
	ID     int64
	Name   string
	Role   workflow.Role
	AreaID int64
}

// pendingLock is the per-complaint action lock. A reservation parks an
// action before its form is filled; inFlight marks the window between a
// mutation passing its guard and the lock being released.
type pendingLock struct {
	action   workflow.Action
	inFlight bool
}

// Service owns complaint state between authoritative refetches. Every
// mutation is optimistic: guard locally, call the backend, and on
// success synthesize the matching activity so the caller sees the
// outcome without waiting for a refetch.
type Service struct {
	up     upstream.API
	dir    *actors.Directory
	atts   *attachments.Resolver
	norm   *activity.Normalizer
	audits store.AuditStore
	logger *utils.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[int64]pendingLock
	cache   map[int64]*Complaint
}

func NewService(up upstream.API, dir *actors.Directory, atts *attachments.Resolver, audits store.AuditStore, logger *utils.Logger) *Service {
	return &Service{
		up:      up,
		dir:     dir,
		atts:    atts,
		norm:    activity.NewNormalizer(atts),
		audits:  audits,
		logger:  logger,
		now:     utils.NowUTC,
		pending: make(map[int64]pendingLock),
		cache:   make(map[int64]*Complaint),
	}
}

// List returns the shallow complaint index from the backend. Entries
// carry no activities; Get fills those in.
func (s *Service) List(ctx context.Context) ([]*Complaint, error) {
	records, err := s.up.ListComplaints(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Complaint, 0, len(records))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		c := fromRecord(rec)
		if c.ID == 0 {
			continue
		}
		c.PendingAction = s.pending[c.ID].action
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Get returns the complaint, refetching from the backend when refresh
// is set or nothing is cached. If the backend is unreachable but a
// cached copy exists, the copy is returned marked stale. The returned
// value is a snapshot owned by the caller; later mutations of the
// complaint do not write into it.
func (s *Service) Get(ctx context.Context, id int64, refresh bool) (*Complaint, error) {
	s.mu.Lock()
	cached := s.cache[id]
	if cached != nil && !refresh {
		snap := cached.snapshot()
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()
	fresh, err := s.fetch(ctx, id)
	if err != nil {
		if cached != nil {
			s.logger.Errorf("COMPLAINT %d refetch failed, serving cached copy: %v", id, err)
			s.mu.Lock()
			snap := cached.snapshot()
			s.mu.Unlock()
			snap.Stale = true
			return snap, nil
		}
		return nil, err
	}
	s.mu.Lock()
	snap := fresh.snapshot()
	s.mu.Unlock()
	return snap, nil
}

// obtain returns the live cached complaint for the mutation paths,
// fetching when nothing is cached yet. Everything leaving the service
// goes through Get and is a snapshot instead.
func (s *Service) obtain(ctx context.Context, id int64) (*Complaint, error) {
	s.mu.Lock()
	cached := s.cache[id]
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	return s.fetch(ctx, id)
}

// fetch pulls the authoritative record and reconciles it with any local
// optimistic activities that survived since the last sync.
func (s *Service) fetch(ctx context.Context, id int64) (*Complaint, error) {
	detail, err := s.up.FetchComplaint(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var local []activity.Activity
	if prior := s.cache[id]; prior != nil {
		local = prior.localActivities()
	}
	c := s.build(detail, local)
	if c.ID == 0 {
		c.ID = id
	}
	// a lock retained after a close is released once the backend
	// confirms the closed state
	if s.pending[c.ID].action == workflow.ActionClose && c.Status.Closed() {
		delete(s.pending, c.ID)
	}
	c.PendingAction = s.pending[c.ID].action
	s.cache[c.ID] = c
	return c, nil
}

func (s *Service) build(detail *upstream.Detail, local []activity.Activity) *Complaint {
	c := fromRecord(detail.Complaint)
	server := s.norm.Normalize(detail.Activities)
	merged := activity.Merge(server, local)
	if len(merged) == 0 {
		if text := activity.StringField(detail.Complaint, actionTakenKeys); text != "" {
			at := activity.ParseTimestamp(activity.Field(detail.Complaint, updatedAtKeys))
			if at.IsZero() {
				at = s.now()
			}
			files := s.atts.Normalize(activity.Field(detail.Complaint, actionFilesKeys))
			merged = []activity.Activity{activity.SynthesizeActionTaken(text, files, at)}
		}
	}
	c.Activities = merged
	c.ActionRecorded = hasRecordedAction(merged) || c.Status == workflow.StatusHQReview
	c.ActionTaken = deriveActionTaken(merged)
	c.FetchedAt = s.now()
	return c
}

// Panels splits the timeline into the two overlapping views: the area
// actions strip and the full history. The full history is omitted when
// it adds nothing beyond the area strip.
func Panels(c *Complaint) (areaActions, all []activity.Activity) {
	for _, act := range c.Activities {
		if act.ActorType == activity.ActorArea {
			areaActions = append(areaActions, act)
		}
	}
	if len(areaActions) > 0 && activity.SubsetSuppressed(areaActions, c.Activities) {
		return areaActions, nil
	}
	return areaActions, c.Activities
}

// Reserve takes the per-complaint action lock ahead of the actual
// mutation, so a second dialog for the same complaint is refused
// before any input is collected. Cancel releases it.
func (s *Service) Reserve(ctx context.Context, actor Actor, id int64, action workflow.Action, p workflow.Params) error {
	c, err := s.obtain(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[c.ID]; ok {
		return workflow.ErrActionPending
	}
	if err := workflow.Guard(actor.Role, c.state(), action, p); err != nil {
		return err
	}
	s.pending[c.ID] = pendingLock{action: action}
	c.PendingAction = action
	return nil
}

func (s *Service) Cancel(id int64) {
	s.release(id)
}

// PendingAction reports the action currently holding the complaint's
// lock, or "" when none does.
func (s *Service) PendingAction(id int64) workflow.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[id].action
}

// Assign routes a complaint to one area officer, or to every officer of
// its area when assignAll is set.
func (s *Service) Assign(ctx context.Context, actor Actor, id int64, officerID int64, assignAll bool, note string) (*Complaint, error) {
	c, err := s.obtain(ctx, id)
	if err != nil {
		return nil, err
	}
	p := workflow.Params{ActorAreaID: actor.AreaID}
	if err := s.begin(actor, c, workflow.ActionAssign, p); err != nil {
		return nil, err
	}
	req := upstream.AssignmentRequest{AssignedTo: officerID, AssignAll: assignAll, Note: note}
	if err := s.up.SubmitAssignment(ctx, id, req); err != nil {
		s.release(id)
		return nil, err
	}
	s.mu.Lock()
	c.setStatus(workflow.Next(c.state(), workflow.ActionAssign, p))
	if assignAll {
		c.AssignedTo = "ALL"
	} else {
		c.AssignedTo = "user_id=" + strconv.FormatInt(officerID, 10)
	}
	c.AssignedBy = actor.Name
	s.synth(c, actor, workflow.ActionAssign, note, nil)
	delete(s.pending, id)
	c.PendingAction = ""
	snap := c.snapshot()
	s.mu.Unlock()
	s.audit(ctx, actor, "complaints.assign", id)
	return snap, nil
}

// Notify submits the acting area's resolution, moving the complaint
// into headquarters review.
func (s *Service) Notify(ctx context.Context, actor Actor, id int64, note string, uploads []upstream.Upload) (*Complaint, error) {
	c, err := s.obtain(ctx, id)
	if err != nil {
		return nil, err
	}
	p := workflow.Params{ActorAreaID: actor.AreaID}
	if err := s.begin(actor, c, workflow.ActionNotify, p); err != nil {
		return nil, err
	}
	if err := s.up.SubmitResolution(ctx, id, note, uploads); err != nil {
		s.release(id)
		return nil, err
	}
	files := s.pendingFiles(uploads)
	s.mu.Lock()
	c.setStatus(workflow.Next(c.state(), workflow.ActionNotify, p))
	c.ActionRecorded = true
	s.synth(c, actor, workflow.ActionNotify, note, files)
	delete(s.pending, id)
	c.PendingAction = ""
	snap := c.snapshot()
	s.mu.Unlock()
	s.audit(ctx, actor, "complaints.notify", id)
	return snap, nil
}

// Reassign sends a reviewed complaint back to its area, optionally
// re-routing it to a different officer in the same step.
func (s *Service) Reassign(ctx context.Context, actor Actor, id int64, newOfficer *int64, note string, uploads []upstream.Upload) (*Complaint, error) {
	c, err := s.obtain(ctx, id)
	if err != nil {
		return nil, err
	}
	p := workflow.Params{ActorAreaID: actor.AreaID, WithAssign: newOfficer != nil}
	if err := s.begin(actor, c, workflow.ActionReassign, p); err != nil {
		return nil, err
	}
	req := upstream.DecisionRequest{Decision: upstream.DecisionBackToArea, Note: note, Attachments: uploads}
	if err := s.up.SubmitDecision(ctx, id, req); err != nil {
		s.release(id)
		return nil, err
	}
	if newOfficer != nil {
		if err := s.up.SubmitAssignment(ctx, id, upstream.AssignmentRequest{AssignedTo: *newOfficer}); err != nil {
			// the decision landed; surface the partial failure and force a refetch
			s.release(id)
			s.invalidate(id)
			return nil, err
		}
	}
	files := s.pendingFiles(uploads)
	s.mu.Lock()
	c.setStatus(workflow.Next(c.state(), workflow.ActionReassign, p))
	c.ActionRecorded = false
	c.ActionTaken = nil
	if newOfficer != nil {
		c.AssignedTo = "user_id=" + strconv.FormatInt(*newOfficer, 10)
		c.AssignedBy = actor.Name
	}
	s.synth(c, actor, workflow.ActionReassign, note, files)
	delete(s.pending, id)
	c.PendingAction = ""
	snap := c.snapshot()
	s.mu.Unlock()
	s.audit(ctx, actor, "complaints.reassign", id)
	return snap, nil
}

// Close records the final action and closes the complaint. The lock is
// retained after success: no further mutation may start until the next
// authoritative refetch confirms the closed state.
func (s *Service) Close(ctx context.Context, actor Actor, id int64, text string, uploads []upstream.Upload) (*Complaint, error) {
	c, err := s.obtain(ctx, id)
	if err != nil {
		return nil, err
	}
	p := workflow.Params{ActionText: text, ActorAreaID: actor.AreaID}
	if err := s.begin(actor, c, workflow.ActionClose, p); err != nil {
		return nil, err
	}
	req := upstream.DecisionRequest{Decision: upstream.DecisionClose, Note: text, Attachments: uploads}
	if err := s.up.SubmitDecision(ctx, id, req); err != nil {
		s.release(id)
		return nil, err
	}
	files := s.pendingFiles(uploads)
	s.mu.Lock()
	c.setStatus(workflow.Next(c.state(), workflow.ActionClose, p))
	c.ActionRecorded = true
	s.synth(c, actor, workflow.ActionClose, text, files)
	c.ActionTaken = deriveActionTaken(c.Activities)
	c.PendingAction = workflow.ActionClose
	snap := c.snapshot()
	s.mu.Unlock()
	s.audit(ctx, actor, "complaints.close", id)
	return snap, nil
}

// Reopen returns a closed complaint to the open pool, clearing its
// assignment so routing starts over.
func (s *Service) Reopen(ctx context.Context, actor Actor, id int64) (*Complaint, error) {
	c, err := s.obtain(ctx, id)
	if err != nil {
		return nil, err
	}
	p := workflow.Params{ActorAreaID: actor.AreaID}
	if err := s.begin(actor, c, workflow.ActionReopen, p); err != nil {
		return nil, err
	}
	req := upstream.DecisionRequest{Decision: upstream.DecisionReopen}
	if err := s.up.SubmitDecision(ctx, id, req); err != nil {
		s.release(id)
		return nil, err
	}
	s.mu.Lock()
	c.setStatus(workflow.Next(c.state(), workflow.ActionReopen, p))
	c.AssignedTo = ""
	c.AssignedBy = ""
	c.ActionRecorded = false
	s.synth(c, actor, workflow.ActionReopen, "", nil)
	delete(s.pending, id)
	c.PendingAction = ""
	snap := c.snapshot()
	s.mu.Unlock()
	s.audit(ctx, actor, "complaints.reopen", id)
	return snap, nil
}

// begin guards the action against the current state and takes the
// per-complaint lock for an in-flight mutation. A reservation held for
// the same action is consumed; anything else, including a second
// mutation for the very same action, is refused until release.
func (s *Service) begin(actor Actor, c *Complaint, action workflow.Action, p workflow.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.pending[c.ID]; ok && (held.inFlight || held.action != action) {
		return workflow.ErrActionPending
	}
	st := c.state()
	if err := workflow.Guard(actor.Role, st, action, p); err != nil {
		return err
	}
	s.pending[c.ID] = pendingLock{action: action, inFlight: true}
	c.PendingAction = action
	return nil
}

func (s *Service) release(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	if c := s.cache[id]; c != nil {
		c.PendingAction = ""
	}
}

func (s *Service) invalidate(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, id)
}

// synth prepends the optimistic local activity mirroring a successful
// mutation. Caller holds s.mu.
func (s *Service) synth(c *Complaint, actor Actor, action workflow.Action, note string, files []attachments.Attachment) {
	act := activity.Activity{
		ID:          activity.LocalIDPrefix + uuid.Must(uuid.NewV4()).String(),
		ActorID:     strconv.FormatInt(actor.ID, 10),
		ActorType:   actorType(actor.Role),
		Type:        action.ActivityType(),
		Description: note,
		CreatedAt:   s.now(),
		Attachments: files,
	}
	c.Activities = append([]activity.Activity{act}, c.Activities...)
}

func (s *Service) pendingFiles(uploads []upstream.Upload) []attachments.Attachment {
	if len(uploads) == 0 {
		return nil
	}
	files := make([]*attachments.PendingFile, 0, len(uploads))
	for _, up := range uploads {
		files = append(files, &attachments.PendingFile{Name: up.Filename, Data: up.Data})
	}
	return s.atts.Normalize(files)
}

func (s *Service) audit(ctx context.Context, actor Actor, action string, id int64) {
	if s.audits == nil {
		return
	}
	object := "complaint:" + strconv.FormatInt(id, 10)
	if err := s.audits.Append(ctx, actor.Name, action, object); err != nil {
		s.logger.Errorf("AUDIT append failed: %v", err)
	}
}

func actorType(role workflow.Role) activity.ActorType {
	if role.IsArea() {
		return activity.ActorArea
	}
	return activity.ActorHQ
}
