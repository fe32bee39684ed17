package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"poflow/internal"
)

type dialect struct {
	name       string
	driver     string
	positional bool
}

var (
	sqliteDialect   = dialect{name: "sqlite", driver: "sqlite"}
	postgresDialect = dialect{name: "postgres", driver: "pgx", positional: true}
)

// DB is the relational Gateway. One purchase order is one transaction.
type DB struct {
	conn    *sql.DB
	dialect dialect
	now     func() time.Time
}

// OpenSQL connects to a postgres:// URL via pgx or to a SQLite file
// (sqlite://path, file:path or a bare path), then applies migrations.
func OpenSQL(ctx context.Context, url string) (*DB, error) {
	d, dsn, err := parseURL(url)
	if err != nil {
		return nil, err
	}
	if d == sqliteDialect && !strings.HasPrefix(dsn, "file::memory:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(strings.TrimPrefix(dsn, "file:")), 0o755); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}

	if d == sqliteDialect {
		conn.SetMaxOpenConns(1)
		for _, pragma := range []string{`PRAGMA journal_mode = WAL;`, `PRAGMA foreign_keys = ON;`} {
			if _, err := conn.ExecContext(ctx, pragma); err != nil {
				_ = conn.Close()
				return nil, err
			}
		}
	}

	db := &DB{conn: conn, dialect: d, now: time.Now}
	if err := Migrate(conn, d.name); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

func parseURL(url string) (dialect, string, error) {
	url = strings.TrimSpace(url)
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return postgresDialect, url, nil
	case strings.HasPrefix(url, "sqlite://"):
		return sqliteDialect, strings.TrimPrefix(url, "sqlite://"), nil
	case strings.HasPrefix(url, "file:"), strings.HasSuffix(url, ".db"), strings.HasSuffix(url, ".sqlite"), url == ":memory:":
		return sqliteDialect, url, nil
	}
	return dialect{}, "", fmt.Errorf("unsupported DATABASE_URL %q", url)
}

func (d *DB) Backend() internal.Backend { return internal.BackendReal }

func (d *DB) Close() error {
	return d.conn.Close()
}

// rebind rewrites ? placeholders as $1..$n for postgres.
func (d *DB) rebind(query string) string {
	if !d.dialect.positional {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) SaveOrders(ctx context.Context, orders []internal.OrderRecord, actor string) (internal.PersistenceResult, error) {
	res := newResult(internal.BackendReal, len(orders))
	if err := requireActor(actor); err != nil {
		res.Error = err.Error()
		return res, err
	}

	for _, order := range orders {
		saved, err := d.saveOrder(ctx, order, actor)
		if err != nil {
			res.Failures = append(res.Failures, failureFor(order, err))
			continue
		}
		res.Saved = append(res.Saved, saved)
	}
	return res, finish(&res)
}

func (d *DB) saveOrder(ctx context.Context, order internal.OrderRecord, actor string) (internal.SavedOrder, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return internal.SavedOrder{}, err
	}
	defer func() { _ = tx.Rollback() }()

	vendorID, err := d.resolveVendor(ctx, tx, strings.TrimSpace(order.VendorName))
	if err != nil {
		return internal.SavedOrder{}, fmt.Errorf("resolve vendor: %w", err)
	}
	projectID, err := d.resolveProject(ctx, tx, projectName(order.ProjectName))
	if err != nil {
		return internal.SavedOrder{}, fmt.Errorf("resolve project: %w", err)
	}

	number := orderNumber(d.now())
	var orderID int64
	err = tx.QueryRowContext(ctx, d.rebind(`
INSERT INTO purchase_orders (
  order_number, vendor_id, project_id, user_id, order_date, delivery_date,
  delivery_name, total_amount, status, source_row, notes
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'draft', ?, ?)
RETURNING id`),
		number, vendorID, projectID, actor, nullable(order.OrderDate), nullable(order.DeliveryDate),
		order.DeliveryName, order.TotalAmount(), order.RowIndex, orderNote,
	).Scan(&orderID)
	if err != nil {
		return internal.SavedOrder{}, fmt.Errorf("insert order: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, d.rebind(`
INSERT INTO purchase_order_items (
  order_id, item_name, specification, quantity, unit_price, total_amount,
  major_category, middle_category, minor_category, notes
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return internal.SavedOrder{}, err
	}
	defer stmt.Close()

	for i, item := range order.Items {
		if _, err := stmt.ExecContext(ctx,
			orderID, item.ItemName, item.Specification, item.Quantity, item.UnitPrice, item.TotalAmount,
			order.MajorCategory, order.MiddleCategory, order.MinorCategory, item.Remarks,
		); err != nil {
			return internal.SavedOrder{}, fmt.Errorf("insert item %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return internal.SavedOrder{}, err
	}
	return internal.SavedOrder{RowIndex: order.RowIndex, OrderID: orderID, OrderNumber: number, VendorID: vendorID, ProjectID: projectID}, nil
}

// resolveVendor finds a vendor by exact name or creates a placeholder. The
// UNIQUE(name) constraint plus ON CONFLICT DO NOTHING lets concurrent creators
// converge on one row.
func (d *DB) resolveVendor(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	v := placeholderVendor(name)
	if _, err := tx.ExecContext(ctx, d.rebind(`
INSERT INTO vendors (name, kind, email, phone, contact_person)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(name) DO NOTHING`), v.Name, string(v.Kind), v.Email, v.Phone, v.ContactPerson); err != nil {
		return 0, err
	}
	var id int64
	err := tx.QueryRowContext(ctx, d.rebind(`SELECT id FROM vendors WHERE name = ?`), v.Name).Scan(&id)
	return id, err
}

func (d *DB) resolveProject(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx, d.rebind(`
INSERT INTO projects (name, code, status) VALUES (?, ?, 'active')
ON CONFLICT(name) DO NOTHING`), name, projectCode()); err != nil {
		return 0, err
	}
	var id int64
	err := tx.QueryRowContext(ctx, d.rebind(`SELECT id FROM projects WHERE name = ?`), name).Scan(&id)
	return id, err
}

func (d *DB) ListVendors(ctx context.Context, kind internal.PartyKind) ([]internal.Vendor, error) {
	query := `SELECT id, name, kind, email, phone, contact_person, aliases FROM vendors`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	rows, err := d.conn.QueryContext(ctx, d.rebind(query+` ORDER BY id`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Vendor
	for rows.Next() {
		var v internal.Vendor
		var kindText, aliasJSON string
		if err := rows.Scan(&v.ID, &v.Name, &kindText, &v.Email, &v.Phone, &v.ContactPerson, &aliasJSON); err != nil {
			return nil, err
		}
		v.Kind = internal.PartyKind(kindText)
		_ = json.Unmarshal([]byte(aliasJSON), &v.Aliases)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (d *DB) UpsertVendors(ctx context.Context, vendors []internal.Vendor) (int, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, d.rebind(`
INSERT INTO vendors (name, kind, email, phone, contact_person, aliases)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  kind=excluded.kind,
  email=excluded.email,
  phone=excluded.phone,
  contact_person=excluded.contact_person,
  aliases=excluded.aliases,
  updated_at=CURRENT_TIMESTAMP`))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for _, v := range vendors {
		if strings.TrimSpace(v.Name) == "" {
			continue
		}
		kind := v.Kind
		if kind == "" {
			kind = internal.KindVendor
		}
		aliases := v.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		aliasJSON, _ := json.Marshal(aliases)
		if _, err := stmt.ExecContext(ctx, strings.TrimSpace(v.Name), string(kind), v.Email, v.Phone, v.ContactPerson, string(aliasJSON)); err != nil {
			return 0, err
		}
		n++
	}
	return n, tx.Commit()
}

func (d *DB) SetMetadata(ctx context.Context, key, value string) error {
	_, err := d.conn.ExecContext(ctx, d.rebind(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
`), key, value)
	return err
}

func (d *DB) GetMetadata(ctx context.Context, key string) (*string, error) {
	var value string
	err := d.conn.QueryRowContext(ctx, d.rebind(`SELECT value FROM metadata WHERE key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func (d *DB) Stats(ctx context.Context) (Stats, error) {
	s := Stats{Backend: internal.BackendReal}
	counts := []struct {
		query string
		args  []any
		dst   *int
	}{
		{`SELECT COUNT(*) FROM vendors WHERE kind = ?`, []any{string(internal.KindVendor)}, &s.Vendors},
		{`SELECT COUNT(*) FROM vendors WHERE kind = ?`, []any{string(internal.KindDelivery)}, &s.Deliveries},
		{`SELECT COUNT(*) FROM projects`, nil, &s.Projects},
		{`SELECT COUNT(*) FROM purchase_orders`, nil, &s.Orders},
		{`SELECT COUNT(*) FROM purchase_order_items`, nil, &s.Items},
	}
	for _, c := range counts {
		if err := d.conn.QueryRowContext(ctx, d.rebind(c.query), c.args...).Scan(c.dst); err != nil {
			return Stats{}, err
		}
	}
	return s, nil
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
