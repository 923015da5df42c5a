package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/okian/parcelcast/internal/domain/forms"
	"github.com/okian/parcelcast/internal/domain/model"
	"github.com/okian/parcelcast/pkg/logger"
)

const defaultQueryTimeout = 5 * time.Second

// schemaDDL creates the tables on first start. Statements are idempotent.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS item_templates (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		schema      JSONB NOT NULL,
		created_by  TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS item_templates_updated_at_idx ON item_templates (updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS packages (
		id                TEXT PRIMARY KEY,
		barcode           TEXT NOT NULL UNIQUE,
		status            TEXT NOT NULL,
		recipient_name    TEXT NOT NULL,
		recipient_phone   TEXT NOT NULL DEFAULT '',
		recipient_email   TEXT NOT NULL DEFAULT '',
		recipient_address TEXT NOT NULL,
		driver_id         TEXT NOT NULL DEFAULT '',
		location_lat      DOUBLE PRECISION,
		location_lng      DOUBLE PRECISION,
		metadata          JSONB,
		item_template_id  TEXT NOT NULL DEFAULT '',
		delivered_at      TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS packages_created_at_idx ON packages (created_at DESC)`,
}

const templateColumns = `id, name, description, status, schema, created_by, created_at, updated_at`

const packageColumns = `id, barcode, status, recipient_name, recipient_phone, recipient_email, ` +
	`recipient_address, driver_id, location_lat, location_lng, metadata, item_template_id, ` +
	`delivered_at, created_at, updated_at`

// Postgres is the Store backed by PostgreSQL through lib/pq.
type Postgres struct {
	db           *sql.DB
	queryTimeout time.Duration
	logger       logger.Logger
}

var _ Store = (*Postgres)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPostgres(db, opts...), nil
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB, opts ...Option) *Postgres {
	p := &Postgres{db: db, queryTimeout: defaultQueryTimeout, logger: logger.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("postgres")
	return p
}

func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.queryTimeout)
}

// Migrate creates missing tables and indexes.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	for _, stmt := range schemaDDL {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	p.logger.Info(ctx, "schema ready")
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error { return p.db.Close() }

// classify maps driver errors onto the package sentinels.
func classify(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("%s: %w: %s", what, ErrConflict, pqErr.Constraint)
	}
	return fmt.Errorf("%s: %w", what, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*forms.Template, error) {
	var (
		t      forms.Template
		status string
		schema []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &status, &schema, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := forms.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", t.ID, err)
	}
	t.Status = st
	if err := json.Unmarshal(schema, &t.Schema); err != nil {
		return nil, fmt.Errorf("template %s schema: %w", t.ID, err)
	}
	return &t, nil
}

func (p *Postgres) CreateTemplate(ctx context.Context, t *forms.Template) error {
	schema, err := json.Marshal(t.Schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO item_templates (`+templateColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Name, t.Description, string(t.Status), string(schema), t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return classify(err, "create template "+t.ID)
	}
	return nil
}

func (p *Postgres) GetTemplate(ctx context.Context, id string) (*forms.Template, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	row := p.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM item_templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if err != nil {
		return nil, classify(err, "template "+id)
	}
	return t, nil
}

func (p *Postgres) ListTemplates(ctx context.Context, status forms.Status) ([]*forms.Template, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + templateColumns + ` FROM item_templates`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC, id`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "list templates")
	}
	defer rows.Close()

	out := make([]*forms.Template, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, classify(err, "list templates")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list templates")
	}
	return out, nil
}

func (p *Postgres) UpdateTemplate(ctx context.Context, t *forms.Template) error {
	schema, err := json.Marshal(t.Schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	res, err := p.db.ExecContext(ctx,
		`UPDATE item_templates SET name = $2, description = $3, status = $4, schema = $5, updated_at = $6 WHERE id = $1`,
		t.ID, t.Name, t.Description, string(t.Status), string(schema), t.UpdatedAt)
	if err != nil {
		return classify(err, "update template "+t.ID)
	}
	return affected(res, "template "+t.ID)
}

func affected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func scanPackage(row rowScanner) (*model.Package, error) {
	var (
		pkg         model.Package
		status      string
		lat, lng    sql.NullFloat64
		metadata    []byte
		deliveredAt sql.NullTime
	)
	err := row.Scan(&pkg.ID, &pkg.Barcode, &status,
		&pkg.Recipient.Name, &pkg.Recipient.Phone, &pkg.Recipient.Email, &pkg.Recipient.Address,
		&pkg.DriverID, &lat, &lng, &metadata, &pkg.ItemTemplateID,
		&deliveredAt, &pkg.CreatedAt, &pkg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	pkg.Status = model.Status(status)
	if lat.Valid && lng.Valid {
		pkg.Location = &model.Location{Lat: lat.Float64, Lng: lng.Float64}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &pkg.Metadata); err != nil {
			return nil, fmt.Errorf("package %s metadata: %w", pkg.ID, err)
		}
	}
	if deliveredAt.Valid {
		at := deliveredAt.Time
		pkg.DeliveredAt = &at
	}
	return &pkg, nil
}

// packageArgs returns the column values in packageColumns order.
func packageArgs(pkg *model.Package) ([]any, error) {
	var lat, lng sql.NullFloat64
	if pkg.Location != nil {
		lat = sql.NullFloat64{Float64: pkg.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: pkg.Location.Lng, Valid: true}
	}
	// JSON goes over the wire as text; lib/pq would send []byte as bytea.
	var metadata sql.NullString
	if pkg.Metadata != nil {
		b, err := json.Marshal(pkg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}
	var deliveredAt sql.NullTime
	if pkg.DeliveredAt != nil {
		deliveredAt = sql.NullTime{Time: *pkg.DeliveredAt, Valid: true}
	}
	return []any{
		pkg.ID, pkg.Barcode, string(pkg.Status),
		pkg.Recipient.Name, pkg.Recipient.Phone, pkg.Recipient.Email, pkg.Recipient.Address,
		pkg.DriverID, lat, lng, metadata, pkg.ItemTemplateID,
		deliveredAt, pkg.CreatedAt, pkg.UpdatedAt,
	}, nil
}

func (p *Postgres) CreatePackage(ctx context.Context, pkg *model.Package) error {
	args, err := packageArgs(pkg)
	if err != nil {
		return err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO packages (`+packageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`, args...)
	if err != nil {
		return classify(err, "create package "+pkg.Barcode)
	}
	return nil
}

func (p *Postgres) getPackage(ctx context.Context, where, what string, arg string) (*model.Package, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	row := p.db.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE `+where+` = $1`, arg)
	pkg, err := scanPackage(row)
	if err != nil {
		return nil, classify(err, what)
	}
	return pkg, nil
}

func (p *Postgres) GetPackage(ctx context.Context, id string) (*model.Package, error) {
	return p.getPackage(ctx, "id", "package "+id, id)
}

func (p *Postgres) GetPackageByBarcode(ctx context.Context, barcode string) (*model.Package, error) {
	return p.getPackage(ctx, "barcode", "barcode "+barcode, barcode)
}

func (p *Postgres) ListPackages(ctx context.Context, f PackageFilter) ([]*model.Package, int, error) {
	limit, offset := f.page()

	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.DriverID != "" {
		add("driver_id = ?", f.DriverID)
	}
	if f.Query != "" {
		add("barcode ILIKE ?", "%"+escapeLike(f.Query)+"%")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM packages`+where, args...).Scan(&total); err != nil {
		return nil, 0, classify(err, "count packages")
	}

	pageArgs := append(append([]any{}, args...), limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM packages%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		packageColumns, where, len(args)+1, len(args)+2)
	rows, err := p.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, classify(err, "list packages")
	}
	defer rows.Close()

	out := make([]*model.Package, 0, limit)
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, 0, classify(err, "list packages")
		}
		out = append(out, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(err, "list packages")
	}
	return out, total, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (p *Postgres) UpdatePackage(ctx context.Context, pkg *model.Package) error {
	args, err := packageArgs(pkg)
	if err != nil {
		return err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	// created_at never changes.
	args = append(args[:13:13], args[14])
	res, err := p.db.ExecContext(ctx, `UPDATE packages SET
		barcode = $2, status = $3, recipient_name = $4, recipient_phone = $5, recipient_email = $6,
		recipient_address = $7, driver_id = $8, location_lat = $9, location_lng = $10, metadata = $11,
		item_template_id = $12, delivered_at = $13, updated_at = $14
		WHERE id = $1`, args...)
	if err != nil {
		return classify(err, "update package "+pkg.ID)
	}
	return affected(res, "package "+pkg.ID)
}

func (p *Postgres) DeletePackage(ctx context.Context, id string) (*model.Package, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	row := p.db.QueryRowContext(ctx, `DELETE FROM packages WHERE id = $1 RETURNING `+packageColumns, id)
	pkg, err := scanPackage(row)
	if err != nil {
		return nil, classify(err, "delete package "+id)
	}
	return pkg, nil
}
