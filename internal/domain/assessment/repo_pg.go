package assessment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DylanRJCollins/whoishRisk/internal/platform/db"
)

// queryable lets repo methods run on the pool, an explicit connection or a
// transaction, whichever the context carries.
type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// -- Postgres implementation --

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const assessmentCols = `id, model_variant, subregion, patient_ref,
	age, sex, smoking_status, systolic_bp, diabetes_status, total_cholesterol,
	composite_key, matched, risk_percent, risk_level, warnings, created_at`

func (r *repoPG) scanAssessment(row pgx.Row) (*Assessment, error) {
	var a Assessment
	err := row.Scan(&a.ID, &a.ModelVariant, &a.Subregion, &a.PatientRef,
		&a.Age, &a.Sex, &a.SmokingStatus, &a.SystolicBP, &a.DiabetesStatus, &a.TotalCholesterol,
		&a.CompositeKey, &a.Matched, &a.RiskPercent, &a.RiskLevel, &a.Warnings, &a.CreatedAt)
	return &a, err
}

const assessmentInsert = `
	INSERT INTO risk_assessments (id, model_variant, subregion, patient_ref,
		age, sex, smoking_status, systolic_bp, diabetes_status, total_cholesterol,
		composite_key, matched, risk_percent, risk_level, warnings)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

// CreateBatch inserts all rows in one round trip. IDs are assigned here.
func (r *repoPG) CreateBatch(ctx context.Context, items []*Assessment) error {
	b := &pgx.Batch{}
	for _, a := range items {
		a.ID = uuid.New()
		b.Queue(assessmentInsert,
			a.ID, a.ModelVariant, a.Subregion, a.PatientRef,
			a.Age, a.Sex, a.SmokingStatus, a.SystolicBP, a.DiabetesStatus, a.TotalCholesterol,
			a.CompositeKey, a.Matched, a.RiskPercent, a.RiskLevel, a.Warnings)
	}
	br := r.conn(ctx).SendBatch(ctx, b)
	for range items {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	return r.scanAssessment(r.conn(ctx).QueryRow(ctx, `SELECT `+assessmentCols+` FROM risk_assessments WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Assessment, int, error) {
	query := `SELECT ` + assessmentCols + ` FROM risk_assessments WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM risk_assessments WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.ModelVariant != "" {
		query += fmt.Sprintf(` AND model_variant = $%d`, idx)
		countQuery += fmt.Sprintf(` AND model_variant = $%d`, idx)
		args = append(args, f.ModelVariant)
		idx++
	}
	if f.Subregion != "" {
		query += fmt.Sprintf(` AND subregion = $%d`, idx)
		countQuery += fmt.Sprintf(` AND subregion = $%d`, idx)
		args = append(args, f.Subregion)
		idx++
	}
	if f.PatientRef != "" {
		query += fmt.Sprintf(` AND patient_ref = $%d`, idx)
		countQuery += fmt.Sprintf(` AND patient_ref = $%d`, idx)
		args = append(args, f.PatientRef)
		idx++
	}
	if f.Matched != nil {
		query += fmt.Sprintf(` AND matched = $%d`, idx)
		countQuery += fmt.Sprintf(` AND matched = $%d`, idx)
		args = append(args, *f.Matched)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Assessment
	for rows.Next() {
		a, err := r.scanAssessment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
