package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/loaner-command-center/internal/db"
	"github.com/ukydev/loaner-command-center/internal/db/dbtest"
	"github.com/ukydev/loaner-command-center/internal/models"
	"github.com/ukydev/loaner-command-center/internal/notify"
)

const testSecret = "dw-secret"

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e notify.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() {}

func newTestHandler() (*Handler, *dbtest.MockStore, *recordingPublisher) {
	store := new(dbtest.MockStore)
	pub := &recordingPublisher{}
	h := NewHandler(store, testSecret, nil, pub)
	h.Now = func() time.Time { return testNow }
	return h, store, pub
}

func signedBody(t *testing.T, state string, data map[string]any, extra map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	sig, err := Sign(testSecret, raw)
	require.NoError(t, err)

	payload := map[string]any{
		"resource":  "Vehicle",
		"state":     state,
		"data":      json.RawMessage(raw),
		"signature": sig,
	}
	for k, v := range extra {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func floatPtr(f float64) *float64 { return &f }

// rawSignedBody keeps data byte for byte and signs the signed form instead.
func rawSignedBody(state, data, signed, extra string) []byte {
	body := `{"resource":"Vehicle","state":"` + state + `","data":` + data +
		`,"signature":"` + hmacHex(testSecret, signed) + `"`
	if extra != "" {
		body += "," + extra
	}
	return []byte(body + "}")
}

func post(h http.Handler, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestServeHTTP_Dispatch(t *testing.T) {
	h, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, DealerwarePath, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "Method not allowed", decode(t, w)["error"])

	req = httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = post(h, "/nowhere", []byte(`{}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not found", decode(t, w)["error"])
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestDealerware_ConfigurationChecks(t *testing.T) {
	store := new(dbtest.MockStore)
	h := NewHandler(store, testSecret, []string{"SUPABASE_URL", "SUPABASE_KEY"}, nil)
	w := post(h, DealerwarePath, []byte(`{}`))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Server configuration error", body["error"])
	assert.Contains(t, body["detail"], "Missing: SUPABASE_URL, SUPABASE_KEY")

	h = NewHandler(store, "", nil, nil)
	w = post(h, DealerwarePath, []byte(`{}`))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Signature validation failed", decode(t, w)["error"])
	assert.Empty(t, store.Calls)
}

func TestDealerware_RejectsBadInput(t *testing.T) {
	h, store, _ := newTestHandler()
	valid := signedBody(t, "Infleet", map[string]any{"vin": "1HG123"}, nil)

	tests := []struct {
		name   string
		body   []byte
		status int
		errMsg string
	}{
		{"invalid json", []byte(`{not json`), http.StatusBadRequest, "Invalid JSON"},
		{"wrong resource", []byte(`{"resource":"Driver","state":"Infleet","data":{"vin":"x"}}`), http.StatusBadRequest, "Invalid resource"},
		{"missing signature", []byte(`{"resource":"Vehicle","state":"Infleet","data":{"vin":"x"}}`), http.StatusUnauthorized, "Signature validation failed"},
		{"tampered data", bytes.Replace(valid, []byte("1HG123"), []byte("1HG999"), 1), http.StatusUnauthorized, "Signature validation failed"},
		{"bad timestamp", signedBody(t, "Infleet", map[string]any{"vin": "1HG123"}, map[string]any{"timestamp": "yesterday"}), http.StatusBadRequest, "Invalid timestamp"},
		{"unsupported state", signedBody(t, "Repair", map[string]any{"vin": "1HG123"}, nil), http.StatusBadRequest, "Unsupported state"},
		{"infleet missing vin", signedBody(t, "Infleet", map[string]any{"make": "Honda"}, nil), http.StatusBadRequest, "Missing vin in data"},
		{"defleet missing vin", signedBody(t, "Defleet", map[string]any{"mileage": 10}, nil), http.StatusBadRequest, "Missing vin in data"},
		{"non-numeric year", signedBody(t, "Infleet", map[string]any{"vin": "1HG123", "year": "twenty"}, nil), http.StatusBadRequest, "Invalid JSON"},
		{"fractional year", signedBody(t, "Infleet", map[string]any{"vin": "1HG123", "year": 2024.5}, nil), http.StatusBadRequest, "Invalid JSON"},
		{"boolean mileage", signedBody(t, "Defleet", map[string]any{"vin": "1HG123", "mileage": true}, nil), http.StatusBadRequest, "Invalid JSON"},
		{"boolean timestamp", signedBody(t, "Infleet", map[string]any{"vin": "1HG123"}, map[string]any{"timestamp": true}), http.StatusBadRequest, "Invalid timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(h, DealerwarePath, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.errMsg, decode(t, w)["error"])
		})
	}
	assert.Empty(t, store.Calls)
}

func TestInfleet_CreatesActiveRowAndAudit(t *testing.T) {
	h, store, pub := newTestHandler()

	store.On("InsertLoaner", mock.Anything, mock.MatchedBy(func(r models.LoanerRequest) bool {
		return r.VIN == "1HG123" &&
			r.Status == models.StatusActive &&
			r.RequestType == models.RequestTypeInfleet &&
			*r.Year == 2024 && *r.Make == "Honda" && *r.Model == "Civic" &&
			*r.LicensePlate == "ABC123" &&
			*r.MileageAtInfleet == 12 &&
			*r.InfleetDealerMatched &&
			r.InfleetApprovedAt.Equal(testNow) &&
			r.DateInfleet.String() == "2025-02-28"
	})).Return("row-1", nil).Once()
	store.On("InsertAudit", mock.Anything, models.AuditEvent{
		Event:           models.AuditInfleetMatched,
		LoanerRequestID: "row-1",
		Actor:           models.ActorDealerwareWebhook,
		Metadata:        map[string]any{"vin": "1HG123", "timestamp": "2025-02-28T09:30:00Z"},
	}).Return(nil).Once()

	body := signedBody(t, "Infleet", map[string]any{
		"vin": "1HG123", "year": 2024, "make": "Honda", "model": "Civic",
		"licensePlate": "ABC123", "mileage": 12, "dateInfleet": "2025-02-28",
	}, map[string]any{"timestamp": "2025-02-28T09:30:00Z"})

	w := post(h, DealerwarePath, body)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, map[string]any{"success": true, "event": "infleet", "vin": "1HG123"}, decode(t, w))
	store.AssertExpectations(t)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "infleet", pub.events[0].Type)
	assert.Equal(t, "row-1", pub.events[0].LoanerRequestID)
}

func TestDealerware_AcceptsJSONStringifySignature(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		signed  string
		vin     string
		mileage *float64
	}{
		{"normalized number", `{"vin":"1HG123","mileage":5000.0}`, `{"vin":"1HG123","mileage":5000}`, "1HG123", floatPtr(5000)},
		{"escaped solidus", `{"vin":"1HG\/123"}`, `{"vin":"1HG/123"}`, "1HG/123", nil},
		{"whitespace and html escapes", `{ "vin" : "1HG123", "make" : "\u003cHonda\u003e" }`, `{"vin":"1HG123","make":"<Honda>"}`, "1HG123", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store, _ := newTestHandler()
			store.On("InsertLoaner", mock.Anything, mock.MatchedBy(func(r models.LoanerRequest) bool {
				return r.VIN == tt.vin && assert.ObjectsAreEqual(tt.mileage, r.MileageAtInfleet)
			})).Return("row-1", nil).Once()
			store.On("InsertAudit", mock.Anything, mock.Anything).Return(nil).Once()

			w := post(h, DealerwarePath, rawSignedBody("Infleet", tt.data, tt.signed, ""))
			assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
			store.AssertExpectations(t)
		})
	}
}

func TestInfleet_AcceptsNumericStringsAndEpochTimestamp(t *testing.T) {
	h, store, _ := newTestHandler()
	store.On("InsertLoaner", mock.Anything, mock.MatchedBy(func(r models.LoanerRequest) bool {
		return r.VIN == "1HG123" && r.Year != nil && *r.Year == 2024 &&
			r.MileageAtInfleet != nil && *r.MileageAtInfleet == 12.5
	})).Return("row-1", nil).Once()
	store.On("InsertAudit", mock.Anything, mock.MatchedBy(func(e models.AuditEvent) bool {
		return e.Metadata["timestamp"] == "2025-02-28T09:30:00Z"
	})).Return(nil).Once()

	w := post(h, DealerwarePath, signedBody(t, "Infleet",
		map[string]any{"vin": "1HG123", "year": "2024", "mileage": "12.5"},
		map[string]any{"timestamp": 1740735000000}))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	store.AssertExpectations(t)
}

func TestInfleet_EmptyNumericStringsLeaveColumnsUnset(t *testing.T) {
	h, store, _ := newTestHandler()
	store.On("InsertLoaner", mock.Anything, mock.MatchedBy(func(r models.LoanerRequest) bool {
		return r.Year == nil && r.MileageAtInfleet == nil
	})).Return("row-1", nil).Once()
	store.On("InsertAudit", mock.Anything, mock.MatchedBy(func(e models.AuditEvent) bool {
		return e.Metadata["timestamp"] == models.At(testNow).String()
	})).Return(nil).Once()

	w := post(h, DealerwarePath, signedBody(t, "Infleet",
		map[string]any{"vin": "1HG123", "year": "", "mileage": nil},
		map[string]any{"timestamp": ""}))
	assert.Equal(t, http.StatusCreated, w.Code)
	store.AssertExpectations(t)
}

func TestInfleet_NoIDSkipsAudit(t *testing.T) {
	h, store, _ := newTestHandler()
	store.On("InsertLoaner", mock.Anything, mock.Anything).Return("", nil).Once()

	w := post(h, DealerwarePath, signedBody(t, "Infleet", map[string]any{"vin": "1HG123"}, nil))
	assert.Equal(t, http.StatusCreated, w.Code)
	store.AssertNotCalled(t, "InsertAudit", mock.Anything, mock.Anything)
}

func TestInfleet_AuditFailureStillSucceeds(t *testing.T) {
	h, store, _ := newTestHandler()
	store.On("InsertLoaner", mock.Anything, mock.Anything).Return("row-1", nil).Once()
	store.On("InsertAudit", mock.Anything, mock.Anything).Return(errors.New("audit down")).Once()

	w := post(h, DealerwarePath, signedBody(t, "Infleet", map[string]any{"vin": "1HG123"}, nil))
	assert.Equal(t, http.StatusCreated, w.Code)
	store.AssertExpectations(t)
}

func TestInfleet_InsertFailure(t *testing.T) {
	h, store, pub := newTestHandler()
	store.On("InsertLoaner", mock.Anything, mock.Anything).
		Return("", &db.Error{Op: "insert", Table: db.TableLoanerRequests, Status: 401, Detail: "new row violates row-level security policy"}).Once()

	w := post(h, DealerwarePath, signedBody(t, "Infleet", map[string]any{"vin": "1HG123"}, nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Database error", body["error"])
	assert.Equal(t, "new row violates row-level security policy", body["detail"])
	assert.Empty(t, pub.events)
}

func TestDefleet_NoActiveLoanerWarns(t *testing.T) {
	h, store, _ := newTestHandler()
	store.On("FindLoaners", mock.Anything, db.Query{
		Filter: db.Where(db.Eq("vin", "1HG123"), db.Eq("status", models.StatusActive)),
		Order:  []db.Order{db.Desc("infleet_approved_at")},
		Limit:  1,
	}).Return([]models.LoanerRequest{}, nil).Once()

	w := post(h, DealerwarePath, signedBody(t, "Defleet", map[string]any{"vin": "1HG123"}, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, NoActiveLoanerWarning, body["warning"])
	store.AssertNotCalled(t, "UpdateLoaners", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "InsertAudit", mock.Anything, mock.Anything)
}

func TestDefleet_LookupFailure(t *testing.T) {
	h, store, _ := newTestHandler()
	store.On("FindLoaners", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()

	w := post(h, DealerwarePath, signedBody(t, "Defleet", map[string]any{"vin": "1HG123"}, nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Database error", decode(t, w)["error"])
}

func TestDefleet_UpdateFailure(t *testing.T) {
	h, store, _ := newTestHandler()
	store.On("FindLoaners", mock.Anything, mock.Anything).Return([]models.LoanerRequest{{ID: "row-1", VIN: "1HG123"}}, nil).Once()
	store.On("UpdateLoaners", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), errors.New("timeout")).Once()

	w := post(h, DealerwarePath, signedBody(t, "Defleet", map[string]any{"vin": "1HG123"}, nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	store.AssertNotCalled(t, "InsertAudit", mock.Anything, mock.Anything)
}

func TestDefleet_WithoutMileageClearsColumn(t *testing.T) {
	h, store, _ := newTestHandler()
	store.On("FindLoaners", mock.Anything, mock.Anything).Return([]models.LoanerRequest{{ID: "row-1", VIN: "1HG123"}}, nil).Once()
	store.On("UpdateLoaners", mock.Anything, db.Where(db.Eq("id", "row-1")), models.Patch{
		"status":                   models.StatusReturnRequested,
		"mileage_at_defleet":       nil,
		"defleet_dealer_timestamp": models.At(testNow),
		"defleet_dealer_matched":   true,
	}).Return(int64(1), nil).Once()
	store.On("InsertAudit", mock.Anything, mock.Anything).Return(nil).Once()

	w := post(h, DealerwarePath, signedBody(t, "Defleet", map[string]any{"vin": "1HG123"}, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	store.AssertExpectations(t)
}

// Infleet then Defleet for the same vehicle.
func TestInfleetThenDefleet_Scenario(t *testing.T) {
	h, store, pub := newTestHandler()

	var inserted models.LoanerRequest
	store.On("InsertLoaner", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inserted = args.Get(1).(models.LoanerRequest)
		inserted.ID = "row-1"
	}).Return("row-1", nil).Once()
	store.On("InsertAudit", mock.Anything, mock.MatchedBy(func(e models.AuditEvent) bool {
		return e.Event == models.AuditInfleetMatched && e.LoanerRequestID == "row-1"
	})).Return(nil).Once()

	w := post(h, DealerwarePath, signedBody(t, "Infleet",
		map[string]any{"vin": "1HG123", "year": 2024, "make": "Honda", "model": "Civic"}, nil))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.StatusActive, inserted.Status)
	assert.True(t, *inserted.InfleetDealerMatched)

	store.On("FindLoaners", mock.Anything, mock.Anything).Return([]models.LoanerRequest{inserted}, nil).Once()
	store.On("UpdateLoaners", mock.Anything, db.Where(db.Eq("id", "row-1")), mock.MatchedBy(func(p models.Patch) bool {
		return p["status"] == models.StatusReturnRequested && p["mileage_at_defleet"] == 5000.0
	})).Return(int64(1), nil).Once()
	store.On("InsertAudit", mock.Anything, mock.MatchedBy(func(e models.AuditEvent) bool {
		return e.Event == models.AuditDefleetMatched && e.LoanerRequestID == "row-1" && e.Metadata["vin"] == "1HG123"
	})).Return(nil).Once()

	w = post(h, DealerwarePath, signedBody(t, "Defleet", map[string]any{"vin": "1HG123", "mileage": 5000}, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"success": true, "event": "defleet", "vin": "1HG123"}, decode(t, w))

	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "UpdateLoaners", 1)
	store.AssertNumberOfCalls(t, "InsertAudit", 2)
	require.Len(t, pub.events, 2)
	assert.Equal(t, "defleet", pub.events[1].Type)
}

func TestOBD(t *testing.T) {
	h, store, _ := newTestHandler()

	w := post(h, OBDPath, []byte(`{"vin":"1HG123","mileage":0}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"success": true, "vin": "1HG123", "mileage": 0.0}, decode(t, w))

	w = post(h, OBDPath, []byte(`{"vin":"1HG123","mileage":"42"}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 42.0, decode(t, w)["mileage"])

	w = post(h, OBDPath, []byte(`{"vin":"1HG123"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing vin or mileage", decode(t, w)["error"])

	w = post(h, OBDPath, []byte(`{"mileage":10}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(h, OBDPath, []byte(`nope`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid JSON", decode(t, w)["error"])

	assert.Empty(t, store.Calls)
}
