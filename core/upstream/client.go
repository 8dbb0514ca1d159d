package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kestrel-irp/config"
	"kestrel-irp/core/utils"
)

// Decision is the verb accepted by the backend's decision endpoint.
type Decision string

const (
	DecisionClose      Decision = "CLOSE"
	DecisionBackToArea Decision = "BACK_TO_AREA"
	DecisionReopen     Decision = "REOPEN"
)

// Upload is a file accompanying a mutation.
type Upload struct {
	Filename string
	Data     []byte
}

type DecisionRequest struct {
	Decision    Decision
	Note        string
	Attachments []Upload
}

type AssignmentRequest struct {
	AssignedTo  int64
	AssignAll   bool
	Note        string
	Attachments []Upload
}

// Detail is a complaint record plus its raw activity list, both in the
// loose shapes the backend emits.
type Detail struct {
	Complaint  map[string]any
	Activities []map[string]any
}

// Error is a non-2xx upstream response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream: %d %s", e.Status, e.Message)
}

// API is the slice of the legacy complaints backend this service needs.
type API interface {
	ListComplaints(ctx context.Context) ([]map[string]any, error)
	FetchComplaint(ctx context.Context, id int64) (*Detail, error)
	SubmitDecision(ctx context.Context, id int64, req DecisionRequest) error
	SubmitResolution(ctx context.Context, id int64, note string, attachments []Upload) error
	SubmitAssignment(ctx context.Context, id int64, req AssignmentRequest) error
	ListHQStaff(ctx context.Context) ([]map[string]any, error)
	ListAreaOfficers(ctx context.Context, areaID int64) ([]map[string]any, error)
}

type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *utils.Logger
}

func NewClient(cfg config.UpstreamConfig, logger *utils.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:   strings.TrimSpace(cfg.Token),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *Client) ListComplaints(ctx context.Context) ([]map[string]any, error) {
	var payload any
	if err := c.getJSON(ctx, "/complaints", &payload); err != nil {
		return nil, err
	}
	return recordList(payload), nil
}

func (c *Client) FetchComplaint(ctx context.Context, id int64) (*Detail, error) {
	var payload map[string]any
	if err := c.getJSON(ctx, "/complaints/"+strconv.FormatInt(id, 10), &payload); err != nil {
		return nil, err
	}
	return decodeDetail(payload), nil
}

func (c *Client) SubmitDecision(ctx context.Context, id int64, req DecisionRequest) error {
	path := "/complaints/" + strconv.FormatInt(id, 10) + "/decision"
	if req.Note == "" && len(req.Attachments) == 0 {
		return c.postJSON(ctx, path, map[string]any{"decision": string(req.Decision)})
	}
	fields := map[string]string{"decision": string(req.Decision)}
	if req.Note != "" {
		fields["note"] = req.Note
	}
	return c.postMultipart(ctx, path, fields, req.Attachments)
}

func (c *Client) SubmitResolution(ctx context.Context, id int64, note string, attachments []Upload) error {
	path := "/complaints/" + strconv.FormatInt(id, 10) + "/resolution"
	if len(attachments) == 0 {
		return c.postJSON(ctx, path, map[string]any{"note": note})
	}
	return c.postMultipart(ctx, path, map[string]string{"note": note}, attachments)
}

func (c *Client) SubmitAssignment(ctx context.Context, id int64, req AssignmentRequest) error {
	path := "/complaints/" + strconv.FormatInt(id, 10) + "/assign"
	if req.Note == "" && len(req.Attachments) == 0 {
		body := map[string]any{}
		if req.AssignAll {
			body["assign_all"] = true
		} else {
			body["assignedto"] = req.AssignedTo
		}
		return c.postJSON(ctx, path, body)
	}
	fields := map[string]string{}
	if req.AssignAll {
		fields["assign_all"] = "true"
	} else {
		fields["assignedto"] = strconv.FormatInt(req.AssignedTo, 10)
	}
	if req.Note != "" {
		fields["note"] = req.Note
	}
	return c.postMultipart(ctx, path, fields, req.Attachments)
}

func (c *Client) ListHQStaff(ctx context.Context) ([]map[string]any, error) {
	var payload any
	if err := c.getJSON(ctx, "/lookups/hq-staff", &payload); err != nil {
		return nil, err
	}
	return recordList(payload), nil
}

func (c *Client) ListAreaOfficers(ctx context.Context, areaID int64) ([]map[string]any, error) {
	var payload any
	if err := c.getJSON(ctx, "/lookups/area-officers?area="+strconv.FormatInt(areaID, 10), &payload); err != nil {
		return nil, err
	}
	return recordList(payload), nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) postMultipart(ctx context.Context, path string, fields map[string]string, uploads []Upload) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for key, val := range fields {
		if err := mw.WriteField(key, val); err != nil {
			return err
		}
	}
	for _, up := range uploads {
		part, err := mw.CreateFormFile("attachments", up.Filename)
		if err != nil {
			return err
		}
		if _, err := part.Write(up.Data); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Errorf("UPSTREAM %s %s status=%d", req.Method, req.URL.Path, resp.StatusCode)
		return &Error{Status: resp.StatusCode, Message: errorMessage(body, resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func errorMessage(body []byte, status int) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"error", "message", "detail"} {
			if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return http.StatusText(status)
}

// decodeDetail tolerates both an envelope ({complaint, activities}) and
// a flat complaint with history embedded under one of several keys.
func decodeDetail(payload map[string]any) *Detail {
	d := &Detail{Complaint: payload}
	if inner, ok := payload["complaint"].(map[string]any); ok {
		d.Complaint = inner
	}
	for _, key := range []string{"activities", "history", "actions", "activity"} {
		if raw, ok := payload[key]; ok {
			if list := recordList(raw); list != nil {
				d.Activities = list
				break
			}
		}
		if d.Complaint != nil {
			if raw, ok := d.Complaint[key]; ok {
				if list := recordList(raw); list != nil {
					d.Activities = list
					break
				}
			}
		}
	}
	return d
}

func recordList(raw any) []map[string]any {
	switch v := raw.(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if rec, ok := item.(map[string]any); ok {
				out = append(out, rec)
			}
		}
		return out
	case map[string]any:
		for _, key := range []string{"items", "data", "results", "rows"} {
			if inner, ok := v[key]; ok {
				return recordList(inner)
			}
		}
		return nil
	default:
		return nil
	}
}
