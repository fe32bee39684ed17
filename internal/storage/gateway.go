package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"poflow/internal"
	"poflow/internal/config"
)

// Gateway persists purchase orders and owns the vendor/project registry.
// Implementations are chosen once by Open and never switched mid-run.
type Gateway interface {
	Backend() internal.Backend
	// SaveOrders writes each order as one unit (vendor, project, header, items)
	// and continues past failed orders. err is non-nil when any order failed.
	SaveOrders(ctx context.Context, orders []internal.OrderRecord, actor string) (internal.PersistenceResult, error)
	ListVendors(ctx context.Context, kind internal.PartyKind) ([]internal.Vendor, error)
	UpsertVendors(ctx context.Context, vendors []internal.Vendor) (int, error)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (*string, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Resetter is implemented by gateways whose contents can be restored to seed data.
type Resetter interface {
	Reset()
}

type Stats struct {
	Backend    internal.Backend `json:"backend"`
	Vendors    int              `json:"vendors"`
	Deliveries int              `json:"deliveries"`
	Projects   int              `json:"projects"`
	Orders     int              `json:"orders"`
	Items      int              `json:"items"`
}

const (
	unnamedVendor  = "미지정 거래처"
	unnamedProject = "미지정 현장"
	orderNote      = "PO Template에서 자동 생성됨"
	placeholderTel = "02-0000-0000"
)

// Open picks the backend for this process: the SQL store named by
// DATABASE_URL when it answers a ping within DBConnectTimeout, otherwise the
// seeded in-memory store.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Info("no DATABASE_URL, using in-memory store")
		return NewMemory(), nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DBConnectTimeout)
	defer cancel()
	db, err := OpenSQL(pingCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Warn("database unavailable, using in-memory store", "error", err)
		return NewMemory(), nil
	}
	logger.Info("using database store", "dialect", db.dialect.name)
	return db, nil
}

func failureFor(order internal.OrderRecord, err error) internal.OrderFailure {
	return internal.OrderFailure{
		RowIndex:    order.RowIndex,
		VendorName:  order.VendorName,
		ProjectName: order.ProjectName,
		Error:       err.Error(),
	}
}

// finish fills the summary fields and the batch error of a result.
func finish(res *internal.PersistenceResult) error {
	res.SavedOrders = len(res.Saved)
	res.Success = len(res.Failures) == 0
	if res.Success {
		return nil
	}
	res.Error = fmt.Sprintf("%d of %d orders failed", len(res.Failures), res.AttemptedOrders)
	return internal.Errorf(internal.CodePersistenceFailed, "%s", res.Error)
}

func newResult(backend internal.Backend, attempted int) internal.PersistenceResult {
	return internal.PersistenceResult{
		Backend:         backend,
		AttemptedOrders: attempted,
		Saved:           []internal.SavedOrder{},
		Failures:        []internal.OrderFailure{},
	}
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return internal.Errorf(internal.CodePersistenceFailed, "actor identity required")
	}
	return nil
}

func orderNumber(now time.Time) string {
	return fmt.Sprintf("PO-%s-%s", now.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}

func projectCode() string {
	return "AUTO-" + strings.ToUpper(uuid.NewString()[:8])
}

func placeholderVendor(name string) internal.Vendor {
	contact := "자동생성"
	if name == "" {
		name = unnamedVendor
		contact = "미지정"
	}
	return internal.Vendor{
		Name:          name,
		Kind:          internal.KindVendor,
		Email:         fmt.Sprintf("auto-%s@example.com", uuid.NewString()),
		Phone:         placeholderTel,
		ContactPerson: contact,
	}
}

func projectName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return unnamedProject
	}
	return name
}
