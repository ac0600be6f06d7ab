package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/loaner-command-center/internal/models"
)

// loanerSelectColumns is the column order scanned by scanLoaner.
var loanerSelectColumns = []string{
	"id", "vin", "status", "request_type", "p_stock_number",
	"year", "make", "model", "color", "trim", "license_plate",
	"date_infleet", "rdr_date", "infleet_approved_at", "defleet_confirmed_at", "defleet_dealer_timestamp",
	"mileage_at_infleet", "mileage_at_defleet", "vehicle_cost",
	"contract_status", "contract_date",
	"customer_id", "customer_name",
	"infleet_dealer_matched", "defleet_dealer_matched", "created_at",
}

// OpenPostgres opens and pings a connection pool to the datastore's
// Postgres database.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open error: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres ping error: %w", err)
	}
	return conn, nil
}

// PostgresStore queries the datastore's tables directly.
type PostgresStore struct {
	DB *sql.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(conn *sql.DB) *PostgresStore {
	return &PostgresStore{DB: conn}
}

// InsertLoaner inserts a loaner request and returns the generated id.
func (s *PostgresStore) InsertLoaner(ctx context.Context, row models.LoanerRequest) (string, error) {
	if s.DB == nil {
		return "", ErrNilCollection
	}
	cols, vals := loanerValues(row)
	query := insertSQL(TableLoanerRequests, cols) + " RETURNING " + pq.QuoteIdentifier("id")

	var id string
	if err := s.DB.QueryRowContext(ctx, query, vals...).Scan(&id); err != nil {
		return "", pgError("insert", TableLoanerRequests, err)
	}
	return id, nil
}

// UpdateLoaners applies patch to rows matching filter.
func (s *PostgresStore) UpdateLoaners(ctx context.Context, filter Filter, patch models.Patch) (int64, error) {
	if s.DB == nil {
		return 0, ErrNilCollection
	}
	if len(patch) == 0 {
		return 0, fmt.Errorf("empty patch")
	}

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		args = append(args, patch[k])
		sets[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(k), len(args))
	}
	where, whereArgs := whereSQL(filter, len(args))
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s", pq.QuoteIdentifier(TableLoanerRequests), strings.Join(sets, ", "), where)
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, pgError("update", TableLoanerRequests, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, pgError("update", TableLoanerRequests, err)
	}
	return n, nil
}

// FindLoaners selects rows matching q.
func (s *PostgresStore) FindLoaners(ctx context.Context, q Query) ([]models.LoanerRequest, error) {
	if s.DB == nil {
		return nil, ErrNilCollection
	}
	quoted := make([]string, len(loanerSelectColumns))
	for i, c := range loanerSelectColumns {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	where, args := whereSQL(q.Filter, 0)
	query := fmt.Sprintf("SELECT %s FROM %s%s%s", strings.Join(quoted, ", "), pq.QuoteIdentifier(TableLoanerRequests), where, orderSQL(q.Order))
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	log.WithField("query", query).Debug("Datastore call")

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pgError("select", TableLoanerRequests, err)
	}
	defer rows.Close()

	var out []models.LoanerRequest
	for rows.Next() {
		r, err := scanLoaner(rows)
		if err != nil {
			return nil, pgError("select", TableLoanerRequests, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError("select", TableLoanerRequests, err)
	}
	return out, nil
}

// InsertSwapRequest inserts a swap request.
func (s *PostgresStore) InsertSwapRequest(ctx context.Context, req models.SwapRequest) error {
	if s.DB == nil {
		return ErrNilCollection
	}
	cols := []string{"loaner_id", "replacement_vin", "status", "requested_by"}
	vals := []any{req.LoanerID, req.ReplacementVIN, string(req.Status), req.RequestedBy}
	if req.ReplacementMakeModel != nil {
		cols, vals = append(cols, "replacement_make_model"), append(vals, *req.ReplacementMakeModel)
	}
	if req.ReplacementColor != nil {
		cols, vals = append(cols, "replacement_color"), append(vals, *req.ReplacementColor)
	}
	if req.ReplacementTrim != nil {
		cols, vals = append(cols, "replacement_trim"), append(vals, *req.ReplacementTrim)
	}
	if req.ReplacementMiles != nil {
		cols, vals = append(cols, "replacement_miles"), append(vals, *req.ReplacementMiles)
	}
	if _, err := s.DB.ExecContext(ctx, insertSQL(TableSwapRequests, cols), vals...); err != nil {
		return pgError("insert", TableSwapRequests, err)
	}
	return nil
}

// InsertAudit appends an audit entry; metadata is stored as jsonb.
func (s *PostgresStore) InsertAudit(ctx context.Context, event models.AuditEvent) error {
	if s.DB == nil {
		return ErrNilCollection
	}
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return &Error{Op: "insert", Table: TableAudit, Err: fmt.Errorf("encode metadata: %w", err)}
	}
	cols := []string{"event", "loaner_request_id", "actor", "metadata"}
	vals := []any{string(event.Event), event.LoanerRequestID, event.Actor, string(metadata)}
	if _, err := s.DB.ExecContext(ctx, insertSQL(TableAudit, cols), vals...); err != nil {
		return pgError("insert", TableAudit, err)
	}
	return nil
}

func insertSQL(table string, cols []string) string {
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", pq.QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(params, ", "))
}

// whereSQL renders filter with placeholders numbered after offset.
func whereSQL(f Filter, offset int) (string, []any) {
	if len(f) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(f))
	var args []any
	for _, c := range f {
		col := pq.QuoteIdentifier(c.Column)
		switch c.Op {
		case OpIn:
			params := make([]string, len(c.Values))
			for i, v := range c.Values {
				args = append(args, v)
				params[i] = fmt.Sprintf("$%d", offset+len(args))
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col, strings.Join(params, ", ")))
		default:
			args = append(args, c.Values[0])
			clauses = append(clauses, fmt.Sprintf("%s = $%d", col, offset+len(args)))
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func orderSQL(orders []Order) string {
	if len(orders) == 0 {
		return ""
	}
	parts := make([]string, len(orders))
	for i, o := range orders {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts[i] = pq.QuoteIdentifier(o.Column) + " " + dir
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func loanerValues(r models.LoanerRequest) ([]string, []any) {
	var cols []string
	var vals []any
	add := func(col string, v any) {
		cols = append(cols, col)
		vals = append(vals, v)
	}

	add("vin", r.VIN)
	if r.Status != "" {
		add("status", string(r.Status))
	}
	if r.RequestType != "" {
		add("request_type", string(r.RequestType))
	}
	if r.PStockNumber != nil {
		add("p_stock_number", *r.PStockNumber)
	}
	if r.Year != nil {
		add("year", int64(*r.Year))
	}
	strs := []struct {
		col string
		v   *string
	}{
		{"make", r.Make}, {"model", r.Model}, {"color", r.Color}, {"trim", r.Trim},
		{"license_plate", r.LicensePlate}, {"customer_id", r.CustomerID}, {"customer_name", r.CustomerName},
	}
	for _, s := range strs {
		if s.v != nil {
			add(s.col, *s.v)
		}
	}
	stamps := []struct {
		col string
		v   *models.Timestamp
	}{
		{"date_infleet", r.DateInfleet}, {"rdr_date", r.RDRDate}, {"infleet_approved_at", r.InfleetApprovedAt},
		{"defleet_confirmed_at", r.DefleetConfirmedAt}, {"defleet_dealer_timestamp", r.DefleetDealerTimestamp},
		{"contract_date", r.ContractDate},
	}
	for _, s := range stamps {
		if s.v != nil {
			add(s.col, *s.v)
		}
	}
	nums := []struct {
		col string
		v   *float64
	}{
		{"mileage_at_infleet", r.MileageAtInfleet}, {"mileage_at_defleet", r.MileageAtDefleet}, {"vehicle_cost", r.VehicleCost},
	}
	for _, n := range nums {
		if n.v != nil {
			add(n.col, *n.v)
		}
	}
	if r.ContractStatus != "" {
		add("contract_status", string(r.ContractStatus))
	}
	if r.InfleetDealerMatched != nil {
		add("infleet_dealer_matched", *r.InfleetDealerMatched)
	}
	if r.DefleetDealerMatched != nil {
		add("defleet_dealer_matched", *r.DefleetDealerMatched)
	}
	return cols, vals
}

func scanLoaner(rows *sql.Rows) (models.LoanerRequest, error) {
	var r models.LoanerRequest
	var status, requestType, contractStatus sql.NullString
	var year sql.NullInt64
	err := rows.Scan(
		&r.ID, &r.VIN, &status, &requestType, &r.PStockNumber,
		&year, &r.Make, &r.Model, &r.Color, &r.Trim, &r.LicensePlate,
		&r.DateInfleet, &r.RDRDate, &r.InfleetApprovedAt, &r.DefleetConfirmedAt, &r.DefleetDealerTimestamp,
		&r.MileageAtInfleet, &r.MileageAtDefleet, &r.VehicleCost,
		&contractStatus, &r.ContractDate,
		&r.CustomerID, &r.CustomerName,
		&r.InfleetDealerMatched, &r.DefleetDealerMatched, &r.CreatedAt,
	)
	if err != nil {
		return r, err
	}
	r.Status = models.Status(status.String)
	r.RequestType = models.RequestType(requestType.String)
	r.ContractStatus = models.ContractStatus(contractStatus.String)
	if year.Valid {
		y := int(year.Int64)
		r.Year = &y
	}
	return r, nil
}

func pgError(op, table string, err error) error {
	e := &Error{Op: op, Table: table, Err: err}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		e.Detail = pqErr.Message
	}
	return e
}
