package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Status is a complaint's lifecycle state. OPEN is the post-reopen state:
// the complaint behaves like NEW (unassigned, no action recorded) but keeps
// its history.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusAssigned   Status = "ASSIGNED_TO_AREA"
	StatusHQReview   Status = "HQ_REVIEW"
	StatusBackToArea Status = "BACK_TO_AREA"
	StatusClosed     Status = "CLOSED"
	StatusOpen       Status = "OPEN"
)

func ParseStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ASSIGNED_TO_AREA", "ASSIGNED":
		return StatusAssigned
	case "HQ_REVIEW", "UNDER_REVIEW":
		return StatusHQReview
	case "BACK_TO_AREA":
		return StatusBackToArea
	case "CLOSED", "CLOSE":
		return StatusClosed
	case "OPEN", "REOPENED":
		return StatusOpen
	default:
		return StatusNew
	}
}

func (s Status) Closed() bool { return s == StatusClosed }

// Action is a workflow mutation requested by an actor.
type Action string

const (
	ActionAssign   Action = "ASSIGN"
	ActionNotify   Action = "NOTIFY_SAFETY"
	ActionReassign Action = "REASSIGN"
	ActionClose    Action = "CLOSE"
	ActionReopen   Action = "REOPEN"
)

// ActivityType returns the timeline tag recorded for a successful action.
func (a Action) ActivityType() string {
	switch a {
	case ActionAssign:
		return "ASSIGN"
	case ActionNotify:
		return "AREA_SUBMIT_RESOLUTION"
	case ActionReassign:
		return "BACK_TO_AREA"
	case ActionClose:
		return "HQ_CLOSE_ACTION"
	case ActionReopen:
		return "REOPEN"
	}
	return string(a)
}

// Role of the acting user. Area ("nodal") officers submit resolutions;
// HQ staff assign, reassign, close and reopen.
type Role string

const (
	RoleHQ    Role = "hq"
	RoleArea  Role = "area"
	RoleAdmin Role = "admin"
)

func (r Role) IsArea() bool { return r == RoleArea }

// State is the guard-relevant snapshot of a complaint.
type State struct {
	Status         Status
	Assigned       bool
	AssignedAreaID int64
	ActionRecorded bool
	PendingAction  Action
}

// ErrGuard is the sentinel wrapped by every precondition failure. Guard
// violations are rejected before any network call and are not retryable
// in the current state.
var ErrGuard = errors.New("workflow guard violation")

var (
	ErrAlreadyAssigned    = guardErr("complaints.alreadyAssigned", "complaint is already assigned")
	ErrClosed             = guardErr("complaints.closedReadOnly", "complaint is closed")
	ErrNotClosed          = guardErr("complaints.notClosed", "complaint is not closed")
	ErrNotAssignedToActor = guardErr("complaints.notAssignedToArea", "complaint is not assigned to the acting area")
	ErrActionRecorded     = guardErr("complaints.actionAlreadyRecorded", "an action is already recorded")
	ErrNotInReview        = guardErr("complaints.notInReview", "complaint has no submitted resolution to send back")
	ErrActionTextRequired = guardErr("complaints.actionTextRequired", "close requires an action summary")
	ErrRoleForbidden      = guardErr("complaints.roleForbidden", "action not allowed for this role")
	ErrActionPending      = guardErr("complaints.actionPending", "another action on this complaint is still pending")
)

type GuardError struct {
	Key string // i18n key surfaced to the client
	msg string
}

func guardErr(key, msg string) *GuardError { return &GuardError{Key: key, msg: msg} }

func (e *GuardError) Error() string { return e.msg }

func (e *GuardError) Unwrap() error { return ErrGuard }

// Params carries the action inputs that guards need to inspect.
type Params struct {
	ActionText  string
	ActorAreaID int64
	WithAssign  bool
}

// Guard checks whether action is legal for role in the given state.
// It never issues I/O.
func Guard(role Role, st State, action Action, p Params) error {
	if st.PendingAction != "" {
		return ErrActionPending
	}
	switch action {
	case ActionAssign:
		if role.IsArea() {
			return ErrRoleForbidden
		}
		if st.Status.Closed() {
			return ErrClosed
		}
		if st.Assigned {
			return ErrAlreadyAssigned
		}
	case ActionNotify:
		if !role.IsArea() {
			return ErrRoleForbidden
		}
		if st.Status.Closed() {
			return ErrClosed
		}
		if !st.Assigned || st.AssignedAreaID != p.ActorAreaID {
			return ErrNotAssignedToActor
		}
		if st.ActionRecorded {
			return ErrActionRecorded
		}
	case ActionReassign:
		if role.IsArea() {
			return ErrRoleForbidden
		}
		if st.Status.Closed() {
			return ErrClosed
		}
		if st.Status != StatusHQReview {
			return ErrNotInReview
		}
	case ActionClose:
		if role.IsArea() {
			return ErrRoleForbidden
		}
		if st.Status.Closed() {
			return ErrClosed
		}
		if strings.TrimSpace(p.ActionText) == "" {
			return ErrActionTextRequired
		}
	case ActionReopen:
		if role.IsArea() {
			return ErrRoleForbidden
		}
		if !st.Status.Closed() {
			return ErrNotClosed
		}
	default:
		return fmt.Errorf("unknown action %q: %w", action, ErrGuard)
	}
	return nil
}

// Next returns the status after a successful action. Guard must have
// passed for the same inputs.
func Next(st State, action Action, p Params) Status {
	switch action {
	case ActionAssign:
		return StatusAssigned
	case ActionNotify:
		return StatusHQReview
	case ActionReassign:
		if p.WithAssign {
			return StatusAssigned
		}
		return StatusBackToArea
	case ActionClose:
		return StatusClosed
	case ActionReopen:
		return StatusOpen
	}
	return st.Status
}
