package db

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/loaner-command-center/internal/models"
)

const restPathPrefix = "/rest/v1/"

// RestStore talks to the hosted datastore's PostgREST endpoint.
type RestStore struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewRestStore creates a store for the project at baseURL using apiKey for
// both the apikey header and the bearer token.
func NewRestStore(baseURL, apiKey string, timeout time.Duration) *RestStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RestStore{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
	}
}

// InsertLoaner inserts a loaner request and returns the id PostgREST echoes back.
func (s *RestStore) InsertLoaner(ctx context.Context, row models.LoanerRequest) (string, error) {
	body, err := s.do(ctx, "insert", http.MethodPost, TableLoanerRequests, nil, row, true)
	if err != nil {
		return "", err
	}
	var inserted []struct {
		ID models.FlexID `json:"id"`
	}
	if err := json.Unmarshal(body, &inserted); err != nil {
		return "", &Error{Op: "insert", Table: TableLoanerRequests, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(inserted) == 0 {
		return "", nil
	}
	return string(inserted[0].ID), nil
}

// UpdateLoaners patches every row matching filter.
func (s *RestStore) UpdateLoaners(ctx context.Context, filter Filter, patch models.Patch) (int64, error) {
	body, err := s.do(ctx, "update", http.MethodPatch, TableLoanerRequests, filterValues(filter), patch, true)
	if err != nil {
		return 0, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, &Error{Op: "update", Table: TableLoanerRequests, Err: fmt.Errorf("decode response: %w", err)}
	}
	return int64(len(rows)), nil
}

// FindLoaners selects rows matching q.
func (s *RestStore) FindLoaners(ctx context.Context, q Query) ([]models.LoanerRequest, error) {
	body, err := s.do(ctx, "select", http.MethodGet, TableLoanerRequests, queryValues(q), nil, false)
	if err != nil {
		return nil, err
	}
	var decoded []restLoaner
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &Error{Op: "select", Table: TableLoanerRequests, Err: fmt.Errorf("decode response: %w", err)}
	}
	rows := make([]models.LoanerRequest, len(decoded))
	for i, d := range decoded {
		rows[i] = d.LoanerRequest
		rows[i].ID = string(d.ID)
	}
	return rows, nil
}

// restLoaner reads a loaner_requests row whose id column may be text or an
// integer.
type restLoaner struct {
	models.LoanerRequest
	ID models.FlexID `json:"id"`
}

// InsertSwapRequest inserts a swap request.
func (s *RestStore) InsertSwapRequest(ctx context.Context, req models.SwapRequest) error {
	_, err := s.do(ctx, "insert", http.MethodPost, TableSwapRequests, nil, req, false)
	return err
}

// InsertAudit appends an audit entry.
func (s *RestStore) InsertAudit(ctx context.Context, event models.AuditEvent) error {
	_, err := s.do(ctx, "insert", http.MethodPost, TableAudit, nil, event, false)
	return err
}

func (s *RestStore) do(ctx context.Context, op, method, table string, query url.Values, payload any, representation bool) ([]byte, error) {
	endpoint := s.BaseURL + restPathPrefix + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &Error{Op: op, Table: table, Err: fmt.Errorf("encode payload: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &Error{Op: op, Table: table, Err: err}
	}
	req.Header.Set("apikey", s.APIKey)
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if representation {
		req.Header.Set("Prefer", "return=representation")
	}

	log.WithFields(log.Fields{"op": op, "table": table, "method": method}).Debug("Datastore call")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Table: table, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Table: table, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Op: op, Table: table, Status: resp.StatusCode, Detail: vendorDetail(body)}
	}
	return body, nil
}

// vendorDetail extracts PostgREST's message field, else the start of the body.
func vendorDetail(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func filterValues(f Filter) url.Values {
	v := url.Values{}
	for _, c := range f {
		switch c.Op {
		case OpIn:
			items := make([]string, len(c.Values))
			for i, item := range c.Values {
				items[i] = quoteRestValue(fmt.Sprint(item))
			}
			v.Add(c.Column, "in.("+strings.Join(items, ",")+")")
		default:
			v.Add(c.Column, "eq."+fmt.Sprint(c.Values[0]))
		}
	}
	return v
}

func queryValues(q Query) url.Values {
	v := filterValues(q.Filter)
	v.Set("select", "*")
	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "asc"
			if o.Desc {
				dir = "desc"
			}
			parts[i] = o.Column + "." + dir
		}
		v.Set("order", strings.Join(parts, ","))
	}
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprint(q.Limit))
	}
	return v
}

// quoteRestValue double-quotes list items containing PostgREST reserved characters.
func quoteRestValue(s string) string {
	if !strings.ContainsAny(s, `,.:()" `) {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
