package complaints

import (
	"context"
	"errors"
	"testing"
	"time"

	"kestrel-irp/core/activity"
	"kestrel-irp/core/actors"
	"kestrel-irp/core/attachments"
	"kestrel-irp/core/upstream"
	"kestrel-irp/core/utils"
	"kestrel-irp/core/workflow"
)

type fakeUpstream struct {
	detail      *upstream.Detail
	detailErr   error
	decisions   []upstream.DecisionRequest
	resolutions []string
	assignments []upstream.AssignmentRequest
	failNext    error

	// when set, SubmitDecision signals started and waits for release
	decisionStarted chan struct{}
	decisionRelease chan struct{}
}

func (f *fakeUpstream) ListComplaints(ctx context.Context) ([]map[string]any, error) {
	if f.detail == nil {
		return nil, nil
	}
	return []map[string]any{f.detail.Complaint}, nil
}

func (f *fakeUpstream) FetchComplaint(ctx context.Context, id int64) (*upstream.Detail, error) {
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	return f.detail, nil
}

func (f *fakeUpstream) SubmitDecision(ctx context.Context, id int64, req upstream.DecisionRequest) error {
	if f.decisionStarted != nil {
		f.decisionStarted <- struct{}{}
		<-f.decisionRelease
	}
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.decisions = append(f.decisions, req)
	return nil
}

func (f *fakeUpstream) SubmitResolution(ctx context.Context, id int64, note string, atts []upstream.Upload) error {
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.resolutions = append(f.resolutions, note)
	return nil
}

func (f *fakeUpstream) SubmitAssignment(ctx context.Context, id int64, req upstream.AssignmentRequest) error {
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.assignments = append(f.assignments, req)
	return nil
}

func (f *fakeUpstream) ListHQStaff(ctx context.Context) ([]map[string]any, error) {
	return nil, nil
}

func (f *fakeUpstream) ListAreaOfficers(ctx context.Context, areaID int64) ([]map[string]any, error) {
	return nil, nil
}

func (f *fakeUpstream) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func newTestService(t *testing.T, up *fakeUpstream) *Service {
	t.Helper()
	dir := actors.NewDirectory()
	dir.ReplaceAreaOfficers(3, []actors.Entry{{ID: 42, DisplayName: "Officer Rao"}})
	svc := NewService(up, dir, attachments.NewResolver("http://files.local"), nil, utils.NewLogger())
	return svc
}

func newComplaintDetail(status string, extra map[string]any) *upstream.Detail {
	rec := map[string]any{
		"id":             float64(101),
		"title":          "Broken gate",
		"workflowstatus": status,
		"areaid":         float64(3),
	}
	for k, v := range extra {
		rec[k] = v
	}
	return &upstream.Detail{Complaint: rec}
}

var (
	hqActor   = Actor{ID: 1, Name: "HQ Admin", Role: workflow.RoleHQ}
	areaActor = Actor{ID: 42, Name: "Officer Rao", Role: workflow.RoleArea, AreaID: 3}
)

func TestFullWorkflowRoundTrip(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpstream{detail: newComplaintDetail("NEW", nil)}
	svc := newTestService(t, up)

	c, err := svc.Assign(ctx, hqActor, 101, 42, false, "take this")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if c.Status != workflow.StatusAssigned {
		t.Fatalf("status after assign=%s", c.Status)
	}
	if c.AssignedTo != "user_id=42" || c.AssignedBy != "HQ Admin" {
		t.Fatalf("assignment refs: to=%q by=%q", c.AssignedTo, c.AssignedBy)
	}
	if len(c.Activities) != 1 || c.Activities[0].Type != "ASSIGN" || !c.Activities[0].IsLocal() {
		t.Fatalf("optimistic assign activity missing: %+v", c.Activities)
	}
	if got := svc.PendingAction(101); got != "" {
		t.Fatalf("assign must release the lock, still pending %s", got)
	}

	c, err = svc.Notify(ctx, areaActor, 101, "fixed the hinge", nil)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if c.Status != workflow.StatusHQReview || !c.ActionRecorded {
		t.Fatalf("after notify: status=%s recorded=%v", c.Status, c.ActionRecorded)
	}
	if len(up.resolutions) != 1 || up.resolutions[0] != "fixed the hinge" {
		t.Fatalf("resolution not submitted: %v", up.resolutions)
	}

	c, err = svc.Close(ctx, hqActor, 101, "verified and closed", nil)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.Status != workflow.StatusClosed || !c.IsClosed {
		t.Fatalf("after close: status=%s closed=%v", c.Status, c.IsClosed)
	}
	if c.ActionTaken == nil || c.ActionTaken.Text != "verified and closed" {
		t.Fatalf("action taken not derived: %+v", c.ActionTaken)
	}
	if got := svc.PendingAction(101); got != workflow.ActionClose {
		t.Fatalf("close must retain the lock, got %q", got)
	}
	// the retained lock blocks further mutations until a refetch
	if _, err := svc.Reopen(ctx, hqActor, 101); !errors.Is(err, workflow.ErrActionPending) {
		t.Fatalf("mutation during retained lock: %v", err)
	}

	// authoritative refetch confirms the close and releases the lock
	up.detail = newComplaintDetail("CLOSED", map[string]any{"isclosed": true})
	c, err = svc.Get(ctx, 101, true)
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if svc.PendingAction(101) != "" {
		t.Fatal("confirmed close must release the lock")
	}

	c, err = svc.Reopen(ctx, hqActor, 101)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if c.Status != workflow.StatusOpen || c.IsClosed {
		t.Fatalf("after reopen: status=%s closed=%v", c.Status, c.IsClosed)
	}
	if c.AssignedTo != "" || c.AssignedBy != "" || c.ActionRecorded {
		t.Fatalf("reopen must clear assignment state: %+v", c)
	}
}

func TestMutationRollsBackOnUpstreamFailure(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpstream{detail: newComplaintDetail("NEW", nil)}
	svc := newTestService(t, up)
	up.failNext = &upstream.Error{Status: 502, Message: "backend down"}

	_, err := svc.Assign(ctx, hqActor, 101, 42, false, "")
	var upErr *upstream.Error
	if !errors.As(err, &upErr) {
		t.Fatalf("want upstream error, got %v", err)
	}
	c, err := svc.Get(ctx, 101, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != workflow.StatusNew || len(c.Activities) != 0 {
		t.Fatalf("failed mutation must not leave local state: %+v", c)
	}
	if svc.PendingAction(101) != "" {
		t.Fatal("failed mutation must release the lock")
	}
	// the next attempt goes through
	if _, err := svc.Assign(ctx, hqActor, 101, 42, false, ""); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestReserveBlocksCompetingAction(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpstream{detail: newComplaintDetail("NEW", nil)}
	svc := newTestService(t, up)

	if err := svc.Reserve(ctx, hqActor, 101, workflow.ActionAssign, workflow.Params{}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	err := svc.Reserve(ctx, hqActor, 101, workflow.ActionClose, workflow.Params{ActionText: "x"})
	if !errors.Is(err, workflow.ErrActionPending) {
		t.Fatalf("competing reserve: %v", err)
	}
	// a repeated reserve of the same action is a second dialog too
	err = svc.Reserve(ctx, hqActor, 101, workflow.ActionAssign, workflow.Params{})
	if !errors.Is(err, workflow.ErrActionPending) {
		t.Fatalf("repeat reserve: %v", err)
	}
	// the reserved action itself may proceed
	if _, err := svc.Assign(ctx, hqActor, 101, 42, false, ""); err != nil {
		t.Fatalf("reserved assign: %v", err)
	}
	svc.Cancel(101)
	if svc.PendingAction(101) != "" {
		t.Fatal("cancel must clear the lock")
	}
}

func TestSecondCloseRejectedWhileFirstInFlight(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpstream{
		detail:          newComplaintDetail("HQ_REVIEW", nil),
		decisionStarted: make(chan struct{}),
		decisionRelease: make(chan struct{}),
	}
	svc := newTestService(t, up)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Close(ctx, hqActor, 101, "first decision", nil)
		done <- err
	}()
	<-up.decisionStarted

	// the first close holds the lock while its backend call is in flight,
	// so a second close for the same complaint never reaches the backend
	_, err := svc.Close(ctx, hqActor, 101, "second decision", nil)
	if !errors.Is(err, workflow.ErrActionPending) {
		t.Fatalf("concurrent close: %v", err)
	}

	close(up.decisionRelease)
	if err := <-done; err != nil {
		t.Fatalf("first close: %v", err)
	}
	if len(up.decisions) != 1 {
		t.Fatalf("want exactly one decision, got %d", len(up.decisions))
	}
	c, err := svc.Get(ctx, 101, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(c.localActivities()) != 1 {
		t.Fatalf("want one close activity, got %+v", c.Activities)
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpstream{detail: newComplaintDetail("NEW", nil)}
	svc := newTestService(t, up)

	before, err := svc.Get(ctx, 101, true)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := svc.Assign(ctx, hqActor, 101, 42, false, "routed"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if before.Status != workflow.StatusNew || before.AssignedTo != "" || len(before.Activities) != 0 {
		t.Fatalf("earlier read mutated in place: %+v", before)
	}

	after, err := svc.Get(ctx, 101, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	after.Activities[0].Description = "scribbled over"
	fresh, err := svc.Get(ctx, 101, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fresh.Activities[0].Description != "routed" {
		t.Fatalf("caller write leaked into the cache: %+v", fresh.Activities[0])
	}
}

func TestGuardRejectsBeforeNetwork(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpstream{detail: newComplaintDetail("CLOSED", map[string]any{"isclosed": true})}
	svc := newTestService(t, up)

	_, err := svc.Assign(ctx, hqActor, 101, 42, false, "")
	if !errors.Is(err, workflow.ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if len(up.assignments) != 0 {
		t.Fatal("guard failures must not reach the backend")
	}
}

func TestGetServesStaleCacheWhenBackendDown(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpstream{detail: newComplaintDetail("NEW", nil)}
	svc := newTestService(t, up)

	if _, err := svc.Get(ctx, 101, true); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	up.detailErr = errors.New("connection refused")
	c, err := svc.Get(ctx, 101, true)
	if err != nil {
		t.Fatalf("stale read should not error: %v", err)
	}
	if !c.Stale {
		t.Fatal("cache fallback must be marked stale")
	}
	up.detailErr = errors.New("still down")
	if _, err := svc.Get(ctx, 999, true); err == nil {
		t.Fatal("no cache and no backend must error")
	}
}

func TestRefetchMergesSurvivingLocals(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpstream{detail: newComplaintDetail("NEW", nil)}
	svc := newTestService(t, up)

	c, err := svc.Assign(ctx, hqActor, 101, 42, false, "routed")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	localSig := c.Activities[0].Signature()
	ts := c.Activities[0].CreatedAt

	// server confirms the assign under its own id; local twin is absorbed
	up.detail = newComplaintDetail("ASSIGNED_TO_AREA", map[string]any{
		"assignedto": "user_id=42",
		"activities": nil,
	})
	up.detail.Activities = []map[string]any{
		{"id": "900", "activity_type": "ASSIGN", "description": "routed", "created_at": ts.Format(time.RFC3339)},
	}
	c, err = svc.Get(ctx, 101, true)
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if len(c.Activities) != 1 {
		t.Fatalf("want 1 merged activity, got %d: %+v", len(c.Activities), c.Activities)
	}
	if c.Activities[0].ID != "900" {
		t.Fatalf("server row should win, got %+v", c.Activities[0])
	}
	if c.Activities[0].Signature() != localSig {
		t.Fatal("confirmed twin must share the local signature")
	}
}

func TestActionTakenFallbackFromLegacyField(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpstream{detail: newComplaintDetail("CLOSED", map[string]any{
		"isclosed":    true,
		"actiontaken": "resolved before migration",
		"updated_at":  "2025-06-01T10:00:00Z",
	})}
	svc := newTestService(t, up)

	c, err := svc.Get(ctx, 101, true)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(c.Activities) != 1 || c.Activities[0].ActorType != activity.ActorSystem {
		t.Fatalf("legacy fallback activity missing: %+v", c.Activities)
	}
	if c.ActionTaken == nil || c.ActionTaken.Text != "resolved before migration" {
		t.Fatalf("action taken not derived from fallback: %+v", c.ActionTaken)
	}
	if !c.Activities[0].CreatedAt.Equal(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("fallback timestamp: %v", c.Activities[0].CreatedAt)
	}
}

func TestPanelsSuppressFullListWhenRedundant(t *testing.T) {
	ts := time.Now().UTC()
	c := &Complaint{Activities: []activity.Activity{
		{Type: "AREA_SUBMIT_RESOLUTION", ActorType: activity.ActorArea, Description: "done", CreatedAt: ts},
	}}
	areaActions, all := Panels(c)
	if len(areaActions) != 1 || all != nil {
		t.Fatalf("full panel should be suppressed: area=%v all=%v", areaActions, all)
	}

	c.Activities = append(c.Activities, activity.Activity{
		Type: "ASSIGN", ActorType: activity.ActorHQ, Description: "routed", CreatedAt: ts.Add(-time.Hour),
	})
	areaActions, all = Panels(c)
	if len(areaActions) != 1 || len(all) != 2 {
		t.Fatalf("full panel should render: area=%v all=%v", areaActions, all)
	}
}

func TestReassignWithNewOfficer(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpstream{detail: newComplaintDetail("HQ_REVIEW", map[string]any{
		"assignedto": "user_id=42",
	})}
	svc := newTestService(t, up)

	officer := int64(55)
	c, err := svc.Reassign(ctx, hqActor, 101, &officer, "needs rework", nil)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if c.Status != workflow.StatusAssigned {
		t.Fatalf("reassign with officer keeps it assigned, got %s", c.Status)
	}
	if c.ActionRecorded {
		t.Fatal("reassign must clear the recorded action")
	}
	if c.AssignedTo != "user_id=55" {
		t.Fatalf("assigned_to=%q", c.AssignedTo)
	}
	if len(up.decisions) != 1 || up.decisions[0].Decision != upstream.DecisionBackToArea {
		t.Fatalf("decisions: %+v", up.decisions)
	}
	if len(up.assignments) != 1 || up.assignments[0].AssignedTo != 55 {
		t.Fatalf("assignments: %+v", up.assignments)
	}
}

func TestReassignWithoutOfficerGoesBackToArea(t *testing.T) {
	ctx := context.Background()
	up := &fakeUpstream{detail: newComplaintDetail("HQ_REVIEW", map[string]any{
		"assignedto": "user_id=42",
	})}
	svc := newTestService(t, up)

	c, err := svc.Reassign(ctx, hqActor, 101, nil, "incomplete", nil)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if c.Status != workflow.StatusBackToArea {
		t.Fatalf("status=%s", c.Status)
	}
	if len(up.assignments) != 0 {
		t.Fatal("no assignment call expected")
	}
}
