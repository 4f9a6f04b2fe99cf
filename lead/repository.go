package lead

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("lead: not found")
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, l Lead) (Lead, error)
	Get(ctx context.Context, id string) (Lead, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Lead, error)
	List(ctx context.Context, filters Filters) ([]Lead, int, error)
	Update(ctx context.Context, tx pgx.Tx, id string, in Input) (Lead, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Lead, error)
	SoftDelete(ctx context.Context, tx pgx.Tx, id string) error
	AppendEvent(ctx context.Context, tx pgx.Tx, leadID, eventType string, actorID string, payload map[string]any) error
	Events(ctx context.Context, leadID string) ([]Event, error)
	InsertRemark(ctx context.Context, tx pgx.Tx, leadID, authorID, body string) (Remark, error)
	Remarks(ctx context.Context, leadID string) ([]Remark, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const leadColumns = `id, partner_id, customer_name, customer_phone, customer_email, loan_type, loan_amount, city, status, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, l Lead) (Lead, error) {
	const query = `
        INSERT INTO leads (id, partner_id, customer_name, customer_phone, customer_email, loan_type, loan_amount, city, status)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING ` + leadColumns

	row := tx.QueryRow(ctx, query,
		l.ID,
		l.PartnerID,
		l.CustomerName,
		l.CustomerPhone,
		l.CustomerEmail,
		l.LoanType,
		l.LoanAmount,
		l.City,
		l.Status,
	)
	created, err := scanLead(row)
	if err != nil {
		return Lead{}, fmt.Errorf("lead: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Lead, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1 AND deleted_at IS NULL`, id)
	l, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, fmt.Errorf("lead: get: %w", err)
	}
	return l, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Lead, error) {
	row := tx.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id)
	l, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, fmt.Errorf("lead: get for update: %w", err)
	}
	return l, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Lead, int, error) {
	filters = normalizeFilters(filters)

	base := `SELECT ` + leadColumns + ` FROM leads`
	where := []string{"deleted_at IS NULL"}
	args := []any{}

	if filters.PartnerID != "" {
		where = append(where, fmt.Sprintf("partner_id=$%d", len(args)+1))
		args = append(args, filters.PartnerID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.Search != "" {
		n := len(args) + 1
		where = append(where, fmt.Sprintf("(customer_name ILIKE $%d OR customer_phone LIKE $%d OR customer_email ILIKE $%d)", n, n, n))
		args = append(args, "%"+escapeLike(filters.Search)+"%")
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	sortKey := mapSortKey(filters.SortKey)
	sortOrder := strings.ToUpper(filters.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`%s%s ORDER BY %s %s, id LIMIT %d OFFSET %d`, base, whereClause, sortKey, sortOrder, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("lead: query list: %w", err)
	}
	defer rows.Close()

	list := []Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("lead: scan list: %w", err)
		}
		list = append(list, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("lead: iterate list: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM leads%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("lead: count list: %w", err)
	}

	return list, total, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, id string, in Input) (Lead, error) {
	const query = `
		UPDATE leads
		SET customer_name = $2,
		    customer_phone = $3,
		    customer_email = $4,
		    loan_type = $5,
		    loan_amount = $6,
		    city = $7,
		    updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + leadColumns

	row := tx.QueryRow(ctx, query, id, in.CustomerName, in.CustomerPhone, in.CustomerEmail, in.LoanType, in.LoanAmount, in.City)
	l, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, fmt.Errorf("lead: update: %w", err)
	}
	return l, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Lead, error) {
	const query = `
		UPDATE leads
		SET status = $2,
		    updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + leadColumns

	l, err := scanLead(tx.QueryRow(ctx, query, id, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, fmt.Errorf("lead: update status: %w", err)
	}
	return l, nil
}

func (r *PGRepository) SoftDelete(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `UPDATE leads SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("lead: soft delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) AppendEvent(ctx context.Context, tx pgx.Tx, leadID, eventType string, actorID string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("lead: marshal event payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
        INSERT INTO lead_events (lead_id, type, actor_id, payload)
        VALUES ($1, $2, $3, $4::jsonb)
    `, leadID, eventType, nullableString(actorID), payloadBytes); err != nil {
		return fmt.Errorf("lead: insert event: %w", err)
	}
	return nil
}

func (r *PGRepository) Events(ctx context.Context, leadID string) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id, lead_id, type, actor_id::text, payload, created_at
        FROM lead_events
        WHERE lead_id = $1
        ORDER BY id ASC
    `, leadID)
	if err != nil {
		return nil, fmt.Errorf("lead: list events: %w", err)
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var (
			ev      Event
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.LeadID, &ev.Type, &ev.ActorID, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("lead: scan event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("lead: decode event payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead: iterate events: %w", err)
	}
	return out, nil
}

func (r *PGRepository) InsertRemark(ctx context.Context, tx pgx.Tx, leadID, authorID, body string) (Remark, error) {
	var rm Remark
	err := tx.QueryRow(ctx, `
        INSERT INTO lead_remarks (lead_id, author_id, body)
        VALUES ($1, $2, $3)
        RETURNING id, lead_id, author_id, body, created_at
    `, leadID, authorID, body).Scan(&rm.ID, &rm.LeadID, &rm.AuthorID, &rm.Body, &rm.CreatedAt)
	if err != nil {
		return Remark{}, fmt.Errorf("lead: insert remark: %w", err)
	}
	return rm, nil
}

func (r *PGRepository) Remarks(ctx context.Context, leadID string) ([]Remark, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id, lead_id, author_id, body, created_at
        FROM lead_remarks
        WHERE lead_id = $1
        ORDER BY created_at DESC, id
    `, leadID)
	if err != nil {
		return nil, fmt.Errorf("lead: list remarks: %w", err)
	}
	defer rows.Close()

	out := []Remark{}
	for rows.Next() {
		var rm Remark
		if err := rows.Scan(&rm.ID, &rm.LeadID, &rm.AuthorID, &rm.Body, &rm.CreatedAt); err != nil {
			return nil, fmt.Errorf("lead: scan remark: %w", err)
		}
		out = append(out, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead: iterate remarks: %w", err)
	}
	return out, nil
}

func scanLead(row pgx.Row) (Lead, error) {
	var l Lead
	err := row.Scan(
		&l.ID,
		&l.PartnerID,
		&l.CustomerName,
		&l.CustomerPhone,
		&l.CustomerEmail,
		&l.LoanType,
		&l.LoanAmount,
		&l.City,
		&l.Status,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	return l, err
}

func normalizeFilters(f Filters) Filters {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}
	if f.SortKey == "" {
		f.SortKey = "createdAt"
	}
	if f.SortOrder == "" {
		f.SortOrder = "desc"
	}
	f.Search = strings.TrimSpace(f.Search)
	return f
}

func mapSortKey(key string) string {
	switch key {
	case "customerName":
		return "customer_name"
	case "loanAmount":
		return "loan_amount"
	case "loanType":
		return "loan_type"
	case "status":
		return "status"
	case "updatedAt":
		return "updated_at"
	case "createdAt":
		fallthrough
	default:
		return "created_at"
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
