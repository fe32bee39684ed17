package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"poflow/internal"
	"poflow/internal/config"
	"poflow/internal/logging"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQL(context.Background(), filepath.Join(t.TempDir(), "po.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func order(row int, vendor, project string, items ...string) internal.OrderRecord {
	rec := internal.OrderRecord{
		RowIndex:    row,
		OrderDate:   "2024-01-01",
		VendorName:  vendor,
		VendorEmail: "buyer@example.com",
		ProjectName: project,
	}
	for _, name := range items {
		rec.Items = append(rec.Items, internal.LineItem{
			ItemName:    name,
			Quantity:    decimal.NewFromInt(2),
			UnitPrice:   decimal.NewFromInt(1000),
			TotalAmount: decimal.NewFromInt(2000),
		})
	}
	rec.SetErrors(nil)
	return rec
}

func count(t *testing.T, db *DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.conn.QueryRow(db.rebind(query), args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func TestSQLNewVendorCreatedOnce(t *testing.T) {
	db := openTestDB(t)
	orders := []internal.OrderRecord{
		order(2, "신규상사", "현장A", "창호"),
		order(3, "신규상사", "현장B", "유리"),
	}

	res, err := db.SaveOrders(context.Background(), orders, "user-1")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !res.Success || res.SavedOrders != 2 || res.Backend != internal.BackendReal {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Saved[0].VendorID != res.Saved[1].VendorID {
		t.Fatalf("vendor ids differ: %d vs %d", res.Saved[0].VendorID, res.Saved[1].VendorID)
	}
	if n := count(t, db, `SELECT COUNT(*) FROM vendors WHERE name = ?`, "신규상사"); n != 1 {
		t.Fatalf("expected one vendor row, got %d", n)
	}

	var email, phone, contact string
	if err := db.conn.QueryRow(`SELECT email, phone, contact_person FROM vendors WHERE name = ?`, "신규상사").Scan(&email, &phone, &contact); err != nil {
		t.Fatalf("select vendor: %v", err)
	}
	if !strings.HasPrefix(email, "auto-") || phone != "02-0000-0000" || contact != "자동생성" {
		t.Fatalf("unexpected placeholder vendor %s %s %s", email, phone, contact)
	}

	var status, notes, user string
	if err := db.conn.QueryRow(`SELECT status, notes, user_id FROM purchase_orders WHERE id = ?`, res.Saved[0].OrderID).Scan(&status, &notes, &user); err != nil {
		t.Fatalf("select order: %v", err)
	}
	if status != "draft" || notes != orderNote || user != "user-1" {
		t.Fatalf("unexpected order row %s %s %s", status, notes, user)
	}
	if !strings.HasPrefix(res.Saved[0].OrderNumber, "PO-") {
		t.Fatalf("unexpected order number %s", res.Saved[0].OrderNumber)
	}
}

func TestSQLPartialPersistence(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.conn.Exec(`
CREATE TRIGGER reject_boom BEFORE INSERT ON purchase_order_items
WHEN NEW.item_name = 'boom'
BEGIN SELECT RAISE(ABORT, 'item rejected'); END;`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	orders := []internal.OrderRecord{
		order(2, "이노에너지", "현장A", "a"),
		order(3, "울트라창호", "현장A", "b"),
		order(4, "더골창호", "현장B", "c", "boom"),
		order(5, "이노에너지", "현장C", "d"),
		order(6, "", "", "e"),
	}
	res, err := db.SaveOrders(context.Background(), orders, "user-1")
	if internal.CodeOf(err) != internal.CodePersistenceFailed {
		t.Fatalf("expected PersistenceFailed, got %v", err)
	}
	if res.Success || res.SavedOrders != 4 || res.AttemptedOrders != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Failures) != 1 || res.Failures[0].RowIndex != 4 || res.Failures[0].VendorName != "더골창호" {
		t.Fatalf("unexpected failures %+v", res.Failures)
	}
	if n := count(t, db, `SELECT COUNT(*) FROM purchase_orders WHERE source_row = ?`, 4); n != 0 {
		t.Fatalf("failed order left %d header rows", n)
	}
	if n := count(t, db, `SELECT COUNT(*) FROM purchase_order_items`); n != 4 {
		t.Fatalf("expected 4 item rows, got %d", n)
	}
	if n := count(t, db, `SELECT COUNT(*) FROM vendors WHERE name = ?`, unnamedVendor); n != 1 {
		t.Fatalf("expected unnamed vendor row, got %d", n)
	}
	if n := count(t, db, `SELECT COUNT(*) FROM projects WHERE name = ?`, unnamedProject); n != 1 {
		t.Fatalf("expected unnamed project row, got %d", n)
	}
}

func TestSQLRequiresActor(t *testing.T) {
	db := openTestDB(t)
	res, err := db.SaveOrders(context.Background(), []internal.OrderRecord{order(2, "a", "b", "c")}, " ")
	if err == nil || res.SavedOrders != 0 {
		t.Fatalf("expected actor error, got %+v %v", res, err)
	}
}

func TestSQLVendorsAndMetadata(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	n, err := db.UpsertVendors(ctx, []internal.Vendor{
		{Name: "이노메탈", Kind: internal.KindDelivery, Email: "d@innometal.co.kr", Aliases: []string{"INNO METAL"}},
		{Name: "이노에너지", Email: "old@innoenergy.co.kr"},
		{Name: " "},
	})
	if err != nil || n != 2 {
		t.Fatalf("upsert: n=%d err=%v", n, err)
	}
	if _, err := db.UpsertVendors(ctx, []internal.Vendor{{Name: "이노에너지", Email: "new@innoenergy.co.kr"}}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	all, err := db.ListVendors(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("list all: %v %+v", err, all)
	}
	deliveries, err := db.ListVendors(ctx, internal.KindDelivery)
	if err != nil || len(deliveries) != 1 || deliveries[0].Aliases[0] != "INNO METAL" {
		t.Fatalf("list deliveries: %v %+v", err, deliveries)
	}
	vendors, _ := db.ListVendors(ctx, internal.KindVendor)
	if len(vendors) != 1 || vendors[0].Email != "new@innoenergy.co.kr" {
		t.Fatalf("upsert did not update: %+v", vendors)
	}

	if v, err := db.GetMetadata(ctx, "missing"); err != nil || v != nil {
		t.Fatalf("expected nil metadata, got %v %v", v, err)
	}
	if err := db.SetMetadata(ctx, "registry.last_sync", "a"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.SetMetadata(ctx, "registry.last_sync", "b"); err != nil {
		t.Fatalf("set again: %v", err)
	}
	if v, _ := db.GetMetadata(ctx, "registry.last_sync"); v == nil || *v != "b" {
		t.Fatalf("unexpected metadata %v", v)
	}

	stats, err := db.Stats(ctx)
	if err != nil || stats.Vendors != 1 || stats.Deliveries != 1 || stats.Backend != internal.BackendReal {
		t.Fatalf("unexpected stats %+v %v", stats, err)
	}
}

func TestMigrationVersion(t *testing.T) {
	db := openTestDB(t)
	conn, name := db.SQLConn()
	v, dirty, err := MigrationVersion(conn, name)
	if err != nil || dirty || v != 1 {
		t.Fatalf("version=%d dirty=%v err=%v", v, dirty, err)
	}
	if err := MigrateDown(conn, name); err != nil {
		t.Fatalf("down: %v", err)
	}
	if v, _, _ := MigrationVersion(conn, name); v != 0 {
		t.Fatalf("expected version 0 after down, got %d", v)
	}
	if err := Migrate(conn, name); err != nil {
		t.Fatalf("up again: %v", err)
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: postgresDialect}
	if got := pg.rebind(`SELECT * FROM t WHERE a = ? AND b = ?`); got != `SELECT * FROM t WHERE a = $1 AND b = $2` {
		t.Fatalf("unexpected rebind %s", got)
	}
	lite := &DB{dialect: sqliteDialect}
	if got := lite.rebind(`a = ?`); got != `a = ?` {
		t.Fatalf("sqlite query rewritten: %s", got)
	}
}

func TestParseURL(t *testing.T) {
	cases := []struct {
		url     string
		dialect string
		dsn     string
		wantErr bool
	}{
		{url: "postgres://u:p@localhost/po", dialect: "postgres", dsn: "postgres://u:p@localhost/po"},
		{url: "postgresql://localhost/po", dialect: "postgres", dsn: "postgresql://localhost/po"},
		{url: "sqlite://data/po.db", dialect: "sqlite", dsn: "data/po.db"},
		{url: "file:po.db", dialect: "sqlite", dsn: "file:po.db"},
		{url: "po.sqlite", dialect: "sqlite", dsn: "po.sqlite"},
		{url: "mysql://localhost/po", wantErr: true},
	}
	for _, tc := range cases {
		d, dsn, err := parseURL(tc.url)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.url)
			}
			continue
		}
		if err != nil || d.name != tc.dialect || dsn != tc.dsn {
			t.Fatalf("%s: got %s %s %v", tc.url, d.name, dsn, err)
		}
	}
}

func TestOpenFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	gw, err := Open(ctx, config.Config{}, logging.Discard())
	if err != nil || gw.Backend() != internal.BackendMock {
		t.Fatalf("expected memory gateway, got %v %v", gw, err)
	}

	gw, err = Open(ctx, config.Config{DatabaseURL: "mysql://nowhere", DBConnectTimeout: 1e9}, logging.Discard())
	if err != nil || gw.Backend() != internal.BackendMock {
		t.Fatalf("expected fallback on bad url, got %v %v", gw, err)
	}

	gw, err = Open(ctx, config.Config{DatabaseURL: filepath.Join(t.TempDir(), "po.db"), DBConnectTimeout: 5e9}, logging.Discard())
	if err != nil || gw.Backend() != internal.BackendReal {
		t.Fatalf("expected sql gateway, got %v %v", gw, err)
	}
	_ = gw.Close()
}

func TestMemorySeedAndReset(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	stats, _ := m.Stats(ctx)
	if stats.Vendors != 3 || stats.Deliveries != 3 || stats.Orders != 0 {
		t.Fatalf("unexpected seed stats %+v", stats)
	}

	res, err := m.SaveOrders(ctx, []internal.OrderRecord{
		order(2, "신규상사", "현장A", "a", "b"),
		order(3, "신규상사", "현장A", "c"),
	}, "user-1")
	if err != nil || res.SavedOrders != 2 {
		t.Fatalf("save: %+v %v", res, err)
	}
	if res.Saved[0].VendorID != 7 || res.Saved[1].VendorID != 7 || res.Saved[0].ProjectID != res.Saved[1].ProjectID {
		t.Fatalf("unexpected ids %+v", res.Saved)
	}
	if _, status, ok := m.Order(res.Saved[0].OrderID); !ok || status != "draft" {
		t.Fatalf("order not stored")
	}
	stats, _ = m.Stats(ctx)
	if stats.Vendors != 4 || stats.Orders != 2 || stats.Items != 3 || stats.Projects != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	m.Reset()
	stats, _ = m.Stats(ctx)
	if stats.Vendors != 3 || stats.Orders != 0 || stats.Projects != 0 {
		t.Fatalf("reset did not restore seed: %+v", stats)
	}
}

func TestMemoryFaultLeavesNoPartialOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.SetFaultHook(func(step string, o internal.OrderRecord) error {
		if step == "item" && o.RowIndex == 4 {
			return errors.New("disk full")
		}
		return nil
	})

	orders := []internal.OrderRecord{
		order(2, "a상사", "p", "x"),
		order(3, "b상사", "p", "x"),
		order(4, "c상사", "q", "x"),
		order(5, "d상사", "p", "x"),
		order(6, "e상사", "p", "x"),
	}
	res, err := m.SaveOrders(ctx, orders, "user-1")
	if internal.CodeOf(err) != internal.CodePersistenceFailed {
		t.Fatalf("expected PersistenceFailed, got %v", err)
	}
	if res.SavedOrders != 4 || len(res.Failures) != 1 || res.Failures[0].RowIndex != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Error, "1 of 5") {
		t.Fatalf("unexpected error text %q", res.Error)
	}

	vendors, _ := m.ListVendors(ctx, internal.KindVendor)
	for _, v := range vendors {
		if v.Name == "c상사" {
			t.Fatalf("failed order leaked vendor %+v", v)
		}
	}
	stats, _ := m.Stats(ctx)
	if stats.Projects != 1 || stats.Orders != 4 {
		t.Fatalf("failed order leaked rows %+v", stats)
	}
}

func TestMemoryUnnamedVendorShared(t *testing.T) {
	m := NewMemory()
	res, err := m.SaveOrders(context.Background(), []internal.OrderRecord{
		order(2, "", "", "x"),
		order(3, " ", "", "y"),
	}, "user-1")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.Saved[0].VendorID != res.Saved[1].VendorID {
		t.Fatalf("unnamed vendor created twice: %+v", res.Saved)
	}
	vendors, _ := m.ListVendors(context.Background(), internal.KindVendor)
	last := vendors[len(vendors)-1]
	if last.Name != unnamedVendor || last.ContactPerson != "미지정" {
		t.Fatalf("unexpected unnamed vendor %+v", last)
	}
}
