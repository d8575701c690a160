package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/bishma/internal/logging"
	"github.com/tOgg1/bishma/internal/models"
)

const (
	airtableBaseURL      = "https://api.airtable.com/v0"
	airtableMaxRetries   = 3
	airtableInitialDelay = 1 * time.Second
)

// AirtableConfig configures the airtable backend.
type AirtableConfig struct {
	APIKey  string
	BaseID  string
	TableID string

	// BaseURL overrides the API root.
	BaseURL string

	// WriteScore sends rice_score on create. Leave off when the table
	// computes it with a formula field.
	WriteScore bool

	// RetryDelay is the first backoff after a 429.
	RetryDelay time.Duration
}

// Airtable talks to the Airtable REST API.
type Airtable struct {
	cfg    AirtableConfig
	client *http.Client
	logger zerolog.Logger
}

// NewAirtable creates an Airtable client. A zero timeout means no timeout
// beyond the caller's context.
func NewAirtable(cfg AirtableConfig, timeout time.Duration) *Airtable {
	if cfg.BaseURL == "" {
		cfg.BaseURL = airtableBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = airtableInitialDelay
	}
	return &Airtable{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logging.Component("gateway.airtable"),
	}
}

func newAirtableFromConfig(_ context.Context, cfg Config) (Gateway, error) {
	if cfg.Airtable.APIKey == "" || cfg.Airtable.BaseID == "" || cfg.Airtable.TableID == "" {
		return nil, fmt.Errorf("gateway.airtable requires api_key, base_id and table_id")
	}
	return NewAirtable(cfg.Airtable, cfg.Timeout), nil
}

func (a *Airtable) Name() string { return BackendAirtable }

type airtableRecord struct {
	ID          string         `json:"id,omitempty"`
	CreatedTime string         `json:"createdTime,omitempty"`
	Fields      map[string]any `json:"fields"`
}

type airtableList struct {
	Records []airtableRecord `json:"records"`
	Offset  string           `json:"offset,omitempty"`
}

type airtableError struct {
	Error json.RawMessage `json:"error"`
}

// CreateRecord posts the task. The task id goes into the "description"
// column and the task text into "Name".
func (a *Airtable) CreateRecord(ctx context.Context, task models.Task, score float64, sessionID string) (string, error) {
	rec, err := models.NewRecord(task, score, sessionID)
	if err != nil {
		return "", err
	}

	fields := map[string]any{
		"Name":        rec.Name,
		"description": rec.TaskID,
		"reach":       rec.Reach,
		"impact":      rec.Impact,
		"confidence":  rec.Confidence,
		"effort":      rec.Effort,
		"status":      string(rec.Status),
		"category":    rec.Category,
		"session_id":  rec.SessionID,
	}
	if rec.Project != "" {
		fields["project"] = rec.Project
	}
	if rec.DueDate != nil {
		fields["due_date"] = rec.DueDate.Format(time.DateOnly)
	}
	if a.cfg.WriteScore {
		fields["rice_score"] = rec.Score
	}

	var created airtableRecord
	if err := a.do(ctx, http.MethodPost, a.tableURL(), nil, airtableRecord{Fields: fields}, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: airtable returned no record id", models.ErrCollaboratorUnavailable)
	}
	a.logger.Debug().Str("task_id", task.ID).Str("record_id", created.ID).Msg("record created")
	return created.ID, nil
}

// UpdateRecord patches the set fields.
func (a *Airtable) UpdateRecord(ctx context.Context, recordID string, fields models.RecordFields) error {
	patch := map[string]any{"updated_at": time.Now().UTC().Format(time.RFC3339)}
	if fields.Name != nil {
		patch["Name"] = *fields.Name
	}
	setFloat := func(key string, v *float64) {
		if v != nil {
			patch[key] = *v
		}
	}
	setFloat("reach", fields.Reach)
	setFloat("impact", fields.Impact)
	setFloat("confidence", fields.Confidence)
	setFloat("effort", fields.Effort)
	if a.cfg.WriteScore {
		setFloat("rice_score", fields.Score)
	}
	if fields.Status != nil {
		patch["status"] = string(*fields.Status)
	}
	if fields.Category != nil {
		patch["category"] = *fields.Category
	}
	if fields.Project != nil {
		patch["project"] = *fields.Project
	}
	if fields.DueDate != nil {
		patch["due_date"] = fields.DueDate.Format(time.DateOnly)
	}
	return a.do(ctx, http.MethodPatch, a.tableURL()+"/"+url.PathEscape(recordID), nil, airtableRecord{Fields: patch}, nil)
}

// ListRecords reads up to filter.Limit records sorted descending.
func (a *Airtable) ListRecords(ctx context.Context, filter models.RecordFilter) ([]models.Record, error) {
	filter = filter.Normalize()
	query := url.Values{}
	query.Set("maxRecords", strconv.Itoa(filter.Limit))
	if formula := airtableFormula(filter); formula != "" {
		query.Set("filterByFormula", formula)
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = models.SortByScore
	}
	query.Set("sort[0][field]", string(sortBy))
	query.Set("sort[0][direction]", "desc")

	var list airtableList
	if err := a.do(ctx, http.MethodGet, a.tableURL(), query, nil, &list); err != nil {
		return nil, err
	}

	out := make([]models.Record, 0, len(list.Records))
	for _, r := range list.Records {
		out = append(out, decodeAirtableRecord(r))
	}
	return out, nil
}

// DeleteRecord removes a record.
func (a *Airtable) DeleteRecord(ctx context.Context, recordID string) error {
	return a.do(ctx, http.MethodDelete, a.tableURL()+"/"+url.PathEscape(recordID), nil, nil, nil)
}

// TestConnection fetches a single record.
func (a *Airtable) TestConnection(ctx context.Context) bool {
	query := url.Values{}
	query.Set("maxRecords", "1")
	err := a.do(ctx, http.MethodGet, a.tableURL(), query, nil, nil)
	if err != nil {
		a.logger.Debug().Err(err).Msg("connection test failed")
	}
	return err == nil
}

func (a *Airtable) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func (a *Airtable) tableURL() string {
	return a.cfg.BaseURL + "/" + url.PathEscape(a.cfg.BaseID) + "/" + url.PathEscape(a.cfg.TableID)
}

func airtableFormula(filter models.RecordFilter) string {
	var clauses []string
	if filter.Status != "" {
		clauses = append(clauses, fmt.Sprintf("{status}='%s'", escapeFormula(filter.Status)))
	}
	if filter.SessionID != "" {
		clauses = append(clauses, fmt.Sprintf("{session_id}='%s'", escapeFormula(filter.SessionID)))
	}
	switch len(clauses) {
	case 0:
		return ""
	case 1:
		return clauses[0]
	default:
		return "AND(" + strings.Join(clauses, ",") + ")"
	}
}

func escapeFormula(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

// do sends one request, retrying only on 429 responses.
func (a *Airtable) do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	if query != nil {
		endpoint += "?" + query.Encode()
	}

	delay := a.cfg.RetryDelay
	var lastErr error
	for attempt := 0; attempt < airtableMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", models.ErrCollaboratorUnavailable, ctx.Err())
			}
			delay *= 2
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: airtable request failed: %v", models.ErrCollaboratorUnavailable, err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%w: failed to read airtable response: %v", models.ErrCollaboratorUnavailable, err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("%w: failed to decode airtable response: %v", models.ErrCollaboratorUnavailable, err)
			}
			return nil
		}

		lastErr = a.statusError(resp.StatusCode, respBody)
		if resp.StatusCode != http.StatusTooManyRequests {
			return lastErr
		}
		if retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && retryAfter > 0 {
			delay = time.Duration(retryAfter) * time.Second
		}
		a.logger.Warn().Int("attempt", attempt+1).Dur("backoff", delay).Msg("airtable rate limited")
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", airtableMaxRetries, lastErr)
}

func (a *Airtable) statusError(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	var envelope airtableError
	if json.Unmarshal(body, &envelope) == nil && len(envelope.Error) > 0 {
		detail = string(envelope.Error)
	}
	detail = logging.Redact(detail)

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: airtable %d: %s", models.ErrRecordNotFound, status, detail)
	case status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: airtable %d: %s", models.ErrInvalidRecord, status, detail)
	default:
		return fmt.Errorf("%w: airtable %d: %s", models.ErrCollaboratorUnavailable, status, detail)
	}
}

func decodeAirtableRecord(r airtableRecord) models.Record {
	rec := models.Record{
		RecordID:   r.ID,
		Name:       fieldString(r.Fields, "Name"),
		TaskID:     fieldString(r.Fields, "description"),
		Reach:      fieldFloat(r.Fields, "reach"),
		Impact:     fieldFloat(r.Fields, "impact"),
		Confidence: fieldFloat(r.Fields, "confidence"),
		Effort:     fieldFloat(r.Fields, "effort"),
		Score:      fieldFloat(r.Fields, "rice_score"),
		Status:     models.RecordStatus(fieldString(r.Fields, "status")),
		Category:   fieldString(r.Fields, "category"),
		Project:    fieldString(r.Fields, "project"),
		SessionID:  fieldString(r.Fields, "session_id"),
	}
	if due := fieldString(r.Fields, "due_date"); due != "" {
		if t, err := time.Parse(time.DateOnly, due); err == nil {
			rec.DueDate = &t
		}
	}
	if t, err := time.Parse(time.RFC3339, r.CreatedTime); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, fieldString(r.Fields, "updated_at")); err == nil {
		rec.UpdatedAt = t
	} else {
		rec.UpdatedAt = rec.CreatedAt
	}
	return rec
}

func fieldString(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func fieldFloat(fields map[string]any, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}
