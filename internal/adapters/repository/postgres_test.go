package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/parcelcast/internal/domain/forms"
	"github.com/okian/parcelcast/internal/domain/model"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Postgres) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock, NewPostgres(db, WithQueryTimeout(time.Second))
}

var packageCols = []string{
	"id", "barcode", "status", "recipient_name", "recipient_phone", "recipient_email",
	"recipient_address", "driver_id", "location_lat", "location_lng", "metadata", "item_template_id",
	"delivered_at", "created_at", "updated_at",
}

func packageRow(rows *sqlmock.Rows, id, barcode string) *sqlmock.Rows {
	return rows.AddRow(id, barcode, "in_transit", "Ada", "", "ada@example.com",
		"1 Main St", "U1", 52.1, 4.3, []byte(`{"priority":"low"}`), "",
		nil, base, base)
}

func TestPostgresCreatePackage(t *testing.T) {
	_, mock, repo := setupMockDB(t)
	ctx := context.Background()
	pkg := newPackage(1)

	mock.ExpectExec(`INSERT INTO packages`).
		WithArgs(pkg.ID, pkg.Barcode, "pending", "R", "", "", "1 Main St", "",
			nil, nil, `{"fragile":true}`, "", nil, pkg.CreatedAt, pkg.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.CreatePackage(ctx, pkg))

	mock.ExpectExec(`INSERT INTO packages`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "packages_barcode_key"})
	err := repo.CreatePackage(ctx, pkg)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "packages_barcode_key")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetPackage(t *testing.T) {
	_, mock, repo := setupMockDB(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT .+ FROM packages WHERE id = \$1`).
		WithArgs("p1").
		WillReturnRows(packageRow(sqlmock.NewRows(packageCols), "p1", "BC-1"))

	pkg, err := repo.GetPackage(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInTransit, pkg.Status)
	assert.Equal(t, &model.Location{Lat: 52.1, Lng: 4.3}, pkg.Location)
	assert.Equal(t, map[string]any{"priority": "low"}, pkg.Metadata)
	assert.Equal(t, "ada@example.com", pkg.Recipient.Email)
	assert.Nil(t, pkg.DeliveredAt)

	mock.ExpectQuery(`SELECT .+ FROM packages WHERE barcode = \$1`).
		WithArgs("BC-404").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.GetPackageByBarcode(ctx, "BC-404")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListPackages(t *testing.T) {
	_, mock, repo := setupMockDB(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM packages WHERE status = $1 AND barcode ILIKE $2`)).
		WithArgs("in_transit", `%BC\_1%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	rows := sqlmock.NewRows(packageCols)
	packageRow(rows, "p1", "BC_1a")
	packageRow(rows, "p2", "BC_1b")
	mock.ExpectQuery(`ORDER BY created_at DESC, id LIMIT \$3 OFFSET \$4`).
		WithArgs("in_transit", `%BC\_1%`, 2, 0).
		WillReturnRows(rows)

	page, total, err := repo.ListPackages(ctx, PackageFilter{Status: model.StatusInTransit, Query: "BC_1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []string{"p1", "p2"}, ids(page))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateAndDeletePackage(t *testing.T) {
	_, mock, repo := setupMockDB(t)
	ctx := context.Background()
	pkg := newPackage(2)
	delivered := base.Add(time.Hour)
	pkg.Status = model.StatusDelivered
	pkg.DeliveredAt = &delivered

	mock.ExpectExec(`UPDATE packages SET`).
		WithArgs(pkg.ID, pkg.Barcode, "delivered", "R", "", "", "1 Main St", "",
			nil, nil, `{"fragile":true}`, "", delivered, pkg.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdatePackage(ctx, pkg))

	mock.ExpectExec(`UPDATE packages SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.UpdatePackage(ctx, pkg), ErrNotFound)

	mock.ExpectQuery(`DELETE FROM packages WHERE id = \$1 RETURNING`).
		WithArgs("p1").
		WillReturnRows(packageRow(sqlmock.NewRows(packageCols), "p1", "BC-1"))
	deleted, err := repo.DeletePackage(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "BC-1", deleted.Barcode)

	require.NoError(t, mock.ExpectationsWereMet())
}

const schemaJSON = `{"version":1,"fields":[{"id":"priority","type":"select","label":"Priority","required":true,"options":[{"value":"low","label":"Low"}]}]}`

func TestPostgresTemplates(t *testing.T) {
	_, mock, repo := setupMockDB(t)
	ctx := context.Background()
	cols := []string{"id", "name", "description", "status", "schema", "created_by", "created_at", "updated_at"}

	schema, err := forms.Parse([]byte(schemaJSON))
	require.NoError(t, err)
	tpl := &forms.Template{ID: "t1", Name: "Parcel", Status: forms.StatusDraft, Schema: *schema, CreatedBy: "A1", CreatedAt: base, UpdatedAt: base}

	mock.ExpectExec(`INSERT INTO item_templates`).
		WithArgs("t1", "Parcel", "", "draft", jsonArg{}, "A1", base, base).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.CreateTemplate(ctx, tpl))

	mock.ExpectQuery(`SELECT .+ FROM item_templates WHERE status = \$1 ORDER BY updated_at DESC`).
		WithArgs("published").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("t2", "B", "", "published", []byte(schemaJSON), "A1", base, base.Add(time.Hour)).
			AddRow("t1", "A", "", "published", []byte(schemaJSON), "A1", base, base))
	list, err := repo.ListTemplates(ctx, forms.StatusPublished)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t2", list[0].ID)
	assert.Len(t, list[0].Schema.Fields, 1)

	mock.ExpectQuery(`SELECT .+ FROM item_templates WHERE id = \$1`).
		WithArgs("t9").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("t9", "Bad", "", "published", []byte(`{"version":2,"fields":[]}`), "A1", base, base))
	_, err = repo.GetTemplate(ctx, "t9")
	assert.ErrorIs(t, err, forms.ErrUnsupportedVersion)

	mock.ExpectExec(`UPDATE item_templates SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.UpdateTemplate(ctx, tpl), ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrate(t *testing.T) {
	_, mock, repo := setupMockDB(t)
	for range schemaDDL {
		mock.ExpectExec(`CREATE (TABLE|INDEX) IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, repo.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

// jsonArg matches any argument holding a JSON document.
type jsonArg struct{}

func (jsonArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && len(s) > 0 && s[0] == '{'
}
