package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"poflow/internal"
)

// FaultHook lets tests fail a save at a named step ("vendor", "project",
// "order", "item") for a given order.
type FaultHook func(step string, order internal.OrderRecord) error

type memOrder struct {
	ID        int64
	Number    string
	VendorID  int64
	ProjectID int64
	Actor     string
	Order     internal.OrderRecord
	Status    string
	CreatedAt time.Time
}

// Memory is the process-wide mock store. Writes are serialized; each order is
// staged and committed only when every step succeeded.
type Memory struct {
	mu       sync.Mutex
	vendors  []internal.Vendor
	projects []internal.Project
	orders   []memOrder
	items    int
	meta     map[string]string

	nextVendorID  int64
	nextProjectID int64
	nextOrderID   int64

	now   func() time.Time
	fault FaultHook
}

func seedVendors() []internal.Vendor {
	return []internal.Vendor{
		{ID: 1, Name: "이노에너지", Kind: internal.KindVendor, ContactPerson: "김대표", Email: "contact@innoenergy.co.kr", Phone: "02-1234-5678"},
		{ID: 2, Name: "울트라창호", Kind: internal.KindVendor, ContactPerson: "박팀장", Email: "sales@ultrawindow.co.kr", Phone: "02-2345-6789"},
		{ID: 3, Name: "더골창호", Kind: internal.KindVendor, ContactPerson: "이사장", Email: "info@thegolwindow.co.kr", Phone: "02-3456-7890"},
		{ID: 4, Name: "이노메탈", Kind: internal.KindDelivery, ContactPerson: "최실장", Email: "delivery@innometal.co.kr", Phone: "02-4567-8901"},
		{ID: 5, Name: "영세엔지텍", Kind: internal.KindDelivery, ContactPerson: "정과장", Email: "eng@youngse.co.kr", Phone: "02-5678-9012"},
		{ID: 6, Name: "신오창호", Kind: internal.KindDelivery, ContactPerson: "한부장", Email: "delivery@shino.co.kr", Phone: "02-6789-0123"},
	}
}

func NewMemory() *Memory {
	m := &Memory{now: time.Now}
	m.Reset()
	return m
}

// Reset restores the six seeded vendors and drops everything else.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vendors = seedVendors()
	m.projects = nil
	m.orders = nil
	m.items = 0
	m.meta = map[string]string{}
	m.nextVendorID = 7
	m.nextProjectID = 1
	m.nextOrderID = 1
}

func (m *Memory) SetFaultHook(hook FaultHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = hook
}

func (m *Memory) Backend() internal.Backend { return internal.BackendMock }

func (m *Memory) Close() error { return nil }

func (m *Memory) SaveOrders(ctx context.Context, orders []internal.OrderRecord, actor string) (internal.PersistenceResult, error) {
	res := newResult(internal.BackendMock, len(orders))
	if err := requireActor(actor); err != nil {
		res.Error = err.Error()
		return res, err
	}

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			res.Failures = append(res.Failures, failureFor(order, err))
			continue
		}
		saved, err := m.saveOrder(order, actor)
		if err != nil {
			res.Failures = append(res.Failures, failureFor(order, err))
			continue
		}
		res.Saved = append(res.Saved, saved)
	}
	return res, finish(&res)
}

func (m *Memory) saveOrder(order internal.OrderRecord, actor string) (internal.SavedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	step := func(name string) error {
		if m.fault == nil {
			return nil
		}
		return m.fault(name, order)
	}

	if err := step("vendor"); err != nil {
		return internal.SavedOrder{}, err
	}
	vendorName := strings.TrimSpace(order.VendorName)
	if vendorName == "" {
		vendorName = unnamedVendor
	}
	var newVendor *internal.Vendor
	vendorID, ok := m.findVendor(vendorName)
	if !ok {
		v := placeholderVendor(strings.TrimSpace(order.VendorName))
		v.ID = m.nextVendorID
		vendorID = v.ID
		newVendor = &v
	}

	if err := step("project"); err != nil {
		return internal.SavedOrder{}, err
	}
	pname := projectName(order.ProjectName)
	var newProject *internal.Project
	projectID, ok := m.findProject(pname)
	if !ok {
		p := internal.Project{ID: m.nextProjectID, Name: pname, Code: projectCode()}
		projectID = p.ID
		newProject = &p
	}

	if err := step("order"); err != nil {
		return internal.SavedOrder{}, err
	}
	now := m.now()
	rec := memOrder{
		ID:        m.nextOrderID,
		Number:    orderNumber(now),
		VendorID:  vendorID,
		ProjectID: projectID,
		Actor:     actor,
		Order:     order,
		Status:    "draft",
		CreatedAt: now,
	}
	rec.Order.Items = slices.Clone(order.Items)

	for range order.Items {
		if err := step("item"); err != nil {
			return internal.SavedOrder{}, err
		}
	}

	if newVendor != nil {
		m.vendors = append(m.vendors, *newVendor)
		m.nextVendorID++
	}
	if newProject != nil {
		m.projects = append(m.projects, *newProject)
		m.nextProjectID++
	}
	m.orders = append(m.orders, rec)
	m.items += len(order.Items)
	m.nextOrderID++

	return internal.SavedOrder{RowIndex: order.RowIndex, OrderID: rec.ID, OrderNumber: rec.Number, VendorID: vendorID, ProjectID: projectID}, nil
}

func (m *Memory) findVendor(name string) (int64, bool) {
	for _, v := range m.vendors {
		if v.Name == name {
			return v.ID, true
		}
	}
	return 0, false
}

func (m *Memory) findProject(name string) (int64, bool) {
	for _, p := range m.projects {
		if p.Name == name {
			return p.ID, true
		}
	}
	return 0, false
}

func (m *Memory) ListVendors(ctx context.Context, kind internal.PartyKind) ([]internal.Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]internal.Vendor, 0, len(m.vendors))
	for _, v := range m.vendors {
		if kind == "" || v.Kind == kind {
			v.Aliases = slices.Clone(v.Aliases)
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *Memory) UpsertVendors(ctx context.Context, vendors []internal.Vendor) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, in := range vendors {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			continue
		}
		in.Name = name
		if in.Kind == "" {
			in.Kind = internal.KindVendor
		}
		if id, ok := m.findVendor(name); ok {
			for i := range m.vendors {
				if m.vendors[i].ID == id {
					in.ID = id
					m.vendors[i] = in
				}
			}
		} else {
			in.ID = m.nextVendorID
			m.nextVendorID++
			m.vendors = append(m.vendors, in)
		}
		n++
	}
	return n, nil
}

func (m *Memory) SetMetadata(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[key] = value
	return nil
}

func (m *Memory) GetMetadata(ctx context.Context, key string) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.meta[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Backend: internal.BackendMock, Projects: len(m.projects), Orders: len(m.orders), Items: m.items}
	for _, v := range m.vendors {
		if v.Kind == internal.KindDelivery {
			s.Deliveries++
		} else {
			s.Vendors++
		}
	}
	return s, nil
}

// Order returns a stored order by id, for inspection.
func (m *Memory) Order(id int64) (internal.OrderRecord, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == id {
			return o.Order, o.Status, true
		}
	}
	return internal.OrderRecord{}, "", false
}
