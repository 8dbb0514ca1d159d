package complaints

import (
	"strconv"
	"strings"
	"time"

	"kestrel-irp/core/activity"
	"kestrel-irp/core/attachments"
	"kestrel-irp/core/workflow"
)

// ActionTaken is the derived resolution summary: the text and attachments
// of the most recent closing-type activity. It is never stored on its own.
type ActionTaken struct {
	Text        string                   `json:"text"`
	Attachments []attachments.Attachment `json:"attachments,omitempty"`
}

// Complaint is the canonical view of one complaint, built from the loose
// upstream shapes plus any optimistic local state.
type Complaint struct {
	ID             int64               `json:"id"`
	Title          string              `json:"title,omitempty"`
	Description    string              `json:"description,omitempty"`
	Status         workflow.Status     `json:"workflow_status"`
	IsClosed       bool                `json:"is_closed"`
	AssignedTo     string              `json:"assigned_to,omitempty"`
	AssignedBy     string              `json:"assigned_by,omitempty"`
	AreaID         int64               `json:"area_id,omitempty"`
	ActionRecorded bool                `json:"action_recorded"`
	PendingAction  workflow.Action     `json:"pending_action,omitempty"`
	Activities     []activity.Activity `json:"activities,omitempty"`
	ActionTaken    *ActionTaken        `json:"action_taken,omitempty"`
	FetchedAt      time.Time           `json:"fetched_at,omitempty"`
	Stale          bool                `json:"stale,omitempty"`
}

// setStatus is the single path changing a complaint's status; it keeps
// the duplicated IsClosed flag consistent.
func (c *Complaint) setStatus(next workflow.Status) {
	c.Status = next
	c.IsClosed = next.Closed()
}

func (c *Complaint) state() workflow.State {
	return workflow.State{
		Status:         c.Status,
		Assigned:       strings.TrimSpace(c.AssignedTo) != "",
		AssignedAreaID: c.AreaID,
		ActionRecorded: c.ActionRecorded,
	}
}

// snapshot returns a copy safe to hand outside the service lock. The
// activities slice and the derived summary are cloned so a later
// mutation of the cached complaint does not show through.
func (c *Complaint) snapshot() *Complaint {
	cp := *c
	if c.Activities != nil {
		cp.Activities = append([]activity.Activity(nil), c.Activities...)
	}
	if c.ActionTaken != nil {
		at := *c.ActionTaken
		cp.ActionTaken = &at
	}
	return &cp
}

// localActivities returns the optimistic entries that have not been
// confirmed by an authoritative refetch yet.
func (c *Complaint) localActivities() []activity.Activity {
	var out []activity.Activity
	for _, act := range c.Activities {
		if act.IsLocal() {
			out = append(out, act)
		}
	}
	return out
}

var (
	idKeys          = []string{"id", "complaintid", "complaint_id"}
	titleKeys       = []string{"title", "subject", "heading"}
	descriptionKeys = []string{"description", "details", "complaint", "text"}
	statusKeys      = []string{"workflowstatus", "workflow_status", "status"}
	closedKeys      = []string{"isclosed", "is_closed", "closed"}
	assignedToKeys  = []string{"assignedto", "assigned_to", "assignee"}
	assignedByKeys  = []string{"assignedby", "assigned_by", "assigner"}
	areaKeys        = []string{"areaid", "area_id", "area"}
	actionTakenKeys = []string{"actiontaken", "action_taken", "actionstaken"}
	actionFilesKeys = []string{"actionattachments", "action_attachments", "actionfiles", "action_files"}
	updatedAtKeys   = []string{"updatedat", "updated_at", "createdat", "created_at", "date"}
)

func int64Field(rec map[string]any, keys []string) int64 {
	switch v := activity.Field(rec, keys).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	default:
		return 0
	}
}

func boolField(rec map[string]any, keys []string) bool {
	switch v := activity.Field(rec, keys).(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		clean := strings.ToLower(strings.TrimSpace(v))
		return clean == "1" || clean == "true" || clean == "yes" || clean == "y"
	default:
		return false
	}
}

// fromRecord maps one loose complaint record to the canonical type. It
// does not touch activities; callers merge those separately.
func fromRecord(rec map[string]any) *Complaint {
	c := &Complaint{
		ID:          int64Field(rec, idKeys),
		Title:       strings.TrimSpace(activity.StringField(rec, titleKeys)),
		Description: strings.TrimSpace(activity.StringField(rec, descriptionKeys)),
		AssignedTo:  strings.TrimSpace(activity.StringField(rec, assignedToKeys)),
		AssignedBy:  strings.TrimSpace(activity.StringField(rec, assignedByKeys)),
		AreaID:      int64Field(rec, areaKeys),
	}
	status := workflow.ParseStatus(activity.StringField(rec, statusKeys))
	if boolField(rec, closedKeys) {
		status = workflow.StatusClosed
	}
	c.setStatus(status)
	return c
}

const closingActivityType = "HQ_CLOSE_ACTION"

// deriveActionTaken extracts the resolution summary from the most recent
// closing-type activity. Its attachment set is exactly that activity's,
// never a union with earlier ones.
func deriveActionTaken(acts []activity.Activity) *ActionTaken {
	for _, act := range acts {
		if act.Type == closingActivityType {
			return &ActionTaken{Text: act.Description, Attachments: act.Attachments}
		}
	}
	return nil
}

func hasRecordedAction(acts []activity.Activity) bool {
	for _, act := range acts {
		switch act.Type {
		case "AREA_SUBMIT_RESOLUTION", closingActivityType:
			return true
		}
	}
	return false
}
