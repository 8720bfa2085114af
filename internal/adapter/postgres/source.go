package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain/query"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/source"
	sourceport "github.com/Dm1try555/banister-backend-sub000/internal/port/source"
)

// sourceTable describes how a source collection is selected from SQL.
type sourceTable struct {
	from    string            // FROM clause including joins
	key     string            // qualified id column
	columns map[string]string // filterable field -> SQL expression
	selects string            // projection in source.Fields order
	scan    func(pgx.Rows) (source.Record, error)
}

var sourceTables = map[source.Name]sourceTable{
	source.Bookings: {
		from: `bookings b
			LEFT JOIN users cu ON cu.id = b.customer_id
			LEFT JOIN users pu ON pu.id = b.provider_id
			LEFT JOIN services sv ON sv.id = b.service_id`,
		key: "b.id",
		columns: map[string]string{
			"status":      "b.status",
			"customer_id": "b.customer_id",
			"provider_id": "b.provider_id",
			"created_at":  "b.created_at",
		},
		selects: `b.id, b.customer_id, COALESCE(cu.email, ''), b.provider_id, COALESCE(pu.email, ''),
			b.service_id, COALESCE(sv.title, ''), b.status, COALESCE(b.location, ''), b.preferred_date,
			b.preferred_time::text, COALESCE(b.frequency, ''), b.scheduled_datetime, b.total_price::text, b.created_at`,
		scan: func(rows pgx.Rows) (source.Record, error) {
			var b source.Booking
			err := rows.Scan(&b.ID, &b.CustomerID, &b.CustomerEmail, &b.ProviderID, &b.ProviderEmail,
				&b.ServiceID, &b.ServiceTitle, &b.Status, &b.Location, &b.PreferredDate,
				&b.PreferredTime, &b.Frequency, &b.ScheduledDatetime, &b.TotalPrice, &b.CreatedAt)
			return &b, err
		},
	},
	source.Payments: {
		from: `payments p LEFT JOIN users u ON u.id = p.user_id`,
		key:  "p.id",
		columns: map[string]string{
			"status":     "p.status",
			"user_id":    "p.user_id",
			"created_at": "p.created_at",
		},
		selects: `p.id, p.user_id, COALESCE(u.email, ''), p.amount::text, p.currency, p.status,
			COALESCE(p.payment_method, ''), COALESCE(p.transaction_id, ''), COALESCE(p.description, ''), p.created_at`,
		scan: func(rows pgx.Rows) (source.Record, error) {
			var p source.Payment
			err := rows.Scan(&p.ID, &p.UserID, &p.UserEmail, &p.Amount, &p.Currency, &p.Status,
				&p.PaymentMethod, &p.TransactionID, &p.Description, &p.CreatedAt)
			return &p, err
		},
	},
	source.Users: {
		from: `users u`,
		key:  "u.id",
		columns: map[string]string{
			"role":        "u.role",
			"is_active":   "u.is_active",
			"date_joined": "u.date_joined",
		},
		selects: `u.id, u.email, COALESCE(u.first_name, ''), COALESCE(u.last_name, ''), u.role, u.is_active,
			u.date_joined, u.last_login`,
		scan: func(rows pgx.Rows) (source.Record, error) {
			var u source.User
			err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.IsActive,
				&u.DateJoined, &u.LastLogin)
			return &u, err
		},
	},
	source.Services: {
		from: `services s LEFT JOIN users pu ON pu.id = s.provider_id`,
		key:  "s.id",
		columns: map[string]string{
			"provider_id": "s.provider_id",
			"price":       "s.price",
			"created_at":  "s.created_at",
		},
		selects: `s.id, s.provider_id, COALESCE(pu.email, ''), s.title, COALESCE(s.description, ''),
			s.price::text, s.created_at`,
		scan: func(rows pgx.Rows) (source.Record, error) {
			var s source.Service
			err := rows.Scan(&s.ID, &s.ProviderID, &s.ProviderEmail, &s.Title, &s.Description,
				&s.Price, &s.CreatedAt)
			return &s, err
		},
	},
}

// SourceReader reads marketplace source tables for batch tasks.
type SourceReader struct {
	pool *pgxpool.Pool
}

var _ sourceport.Reader = (*SourceReader)(nil)

// NewSourceReader creates a SourceReader backed by the given pool.
func NewSourceReader(pool *pgxpool.Pool) *SourceReader {
	return &SourceReader{pool: pool}
}

func (r *SourceReader) Count(ctx context.Context, q query.Query) (int64, error) {
	sql, args, err := countSQL(q)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, wrapErr(err, "count %s", q.Source)
	}
	return n, nil
}

func (r *SourceReader) Fetch(ctx context.Context, q query.Query, p sourceport.Page) ([]source.Record, error) {
	tbl, ok := sourceTables[q.Source]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", q.Source)
	}
	sql, args, err := fetchSQL(q, p)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapErr(err, "fetch %s", q.Source)
	}
	defer rows.Close()

	records := make([]source.Record, 0, p.Limit)
	for rows.Next() {
		rec, err := tbl.scan(rows)
		if err != nil {
			return nil, wrapErr(err, "scan %s", q.Source)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err, "fetch %s", q.Source)
	}
	return records, nil
}

// whereClause renders the conditions and date window of q.
func whereClause(q query.Query, tbl sourceTable) (string, []any, error) {
	var (
		parts []string
		args  []any
	)
	add := func(expr string, op query.Op, v any) {
		args = append(args, v)
		parts = append(parts, expr+" "+string(op)+" $"+strconv.Itoa(len(args)))
	}

	for _, c := range q.Conditions {
		col, ok := tbl.columns[c.Field]
		if !ok {
			return "", nil, fmt.Errorf("field %q is not filterable on %s", c.Field, q.Source)
		}
		add(col, c.Op, c.Value)
	}
	created := tbl.columns[source.CreatedField(q.Source)]
	if q.From != nil {
		add(created, query.OpGte, *q.From)
	}
	if q.To != nil {
		add(created, query.OpLte, *q.To)
	}

	if len(parts) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func countSQL(q query.Query) (string, []any, error) {
	tbl, ok := sourceTables[q.Source]
	if !ok {
		return "", nil, fmt.Errorf("unknown source %q", q.Source)
	}
	where, args, err := whereClause(q, tbl)
	if err != nil {
		return "", nil, err
	}
	return "SELECT COUNT(*) FROM " + tbl.from + where, args, nil
}

// fetchSQL renders one page in id order. A positive AfterID seeks past that
// key; otherwise Offset rows are skipped.
func fetchSQL(q query.Query, p sourceport.Page) (string, []any, error) {
	tbl, ok := sourceTables[q.Source]
	if !ok {
		return "", nil, fmt.Errorf("unknown source %q", q.Source)
	}
	where, args, err := whereClause(q, tbl)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(tbl.selects)
	b.WriteString(" FROM ")
	b.WriteString(tbl.from)
	b.WriteString(where)

	if p.AfterID > 0 {
		args = append(args, p.AfterID)
		if where == "" {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(tbl.key + " > $" + strconv.Itoa(len(args)))
	}

	b.WriteString(" ORDER BY " + tbl.key + " ASC")
	args = append(args, p.Limit)
	b.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	if p.AfterID <= 0 && p.Offset > 0 {
		args = append(args, p.Offset)
		b.WriteString(" OFFSET $" + strconv.Itoa(len(args)))
	}
	return b.String(), args, nil
}
