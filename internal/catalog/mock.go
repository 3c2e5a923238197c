package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
)

// Mock is an in-memory catalog. It honours idempotency keys the way the real
// catalog does and can be told to fail.
type Mock struct {
	mu     sync.Mutex
	items  []entity.CatalogItem
	byKey  map[string]string
	next   int
	pushes int
	// Err, when set, fails every Push.
	Err error
}

func NewMock(seed bool) *Mock {
	m := &Mock{byKey: map[string]string{}, next: 1000}
	if seed {
		m.items = append(m.items, SeedItems()...)
	}
	return m
}

func (m *Mock) Push(ctx context.Context, req PushRequest) (PushResult, error) {
	if err := ctx.Err(); err != nil {
		return PushResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return PushResult{}, m.Err
	}
	key := req.DraftID.String()
	if ref, ok := m.byKey[key]; ok {
		return PushResult{RefKey: ref, Replayed: true}, nil
	}
	m.next++
	m.pushes++
	ref := fmt.Sprintf("ERP-%06d", m.next)
	m.byKey[key] = ref
	item := req.Item(ref)
	item.CreatedAt = time.Now().UTC()
	m.items = append(m.items, item)
	return PushResult{RefKey: ref}, nil
}

func (m *Mock) Items(ctx context.Context) ([]entity.CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entity.CatalogItem, len(m.items))
	copy(out, m.items)
	return out, nil
}

// Pushes counts catalog writes that created an item.
func (m *Mock) Pushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushes
}

func (m *Mock) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// SeedItems is a small demo catalog.
func SeedItems() []entity.CatalogItem {
	return []entity.CatalogItem{
		{RefKey: "ERP-000101", Name: "Computer mouse Logitech M705", Brand: "Logitech", Article: "M705", Kind: "Computer mouse"},
		{RefKey: "ERP-000102", Name: "Computer mouse Logitech MX Master 3S", Brand: "Logitech", Article: "MX Master 3S", Kind: "Computer mouse"},
		{RefKey: "ERP-000103", Name: "Computer mouse Razer Viper V2 Pro", Brand: "Razer", Article: "Viper V2 Pro", Kind: "Computer mouse"},
		{RefKey: "ERP-000104", Name: "Computer mouse Apple Magic Mouse", Brand: "Apple", Article: "MK2E3", Kind: "Computer mouse"},
		{RefKey: "ERP-000105", Name: "Keyboard Logitech K120", Brand: "Logitech", Article: "K120", Kind: "Keyboard"},
		{RefKey: "ERP-000106", Name: "Headphones Sony WH-1000XM5", Brand: "Sony", Article: "WH-1000XM5", Kind: "Headphones"},
		{RefKey: "ERP-000107", Name: "Power tool Bosch GSR 12V-15", Brand: "Bosch", Article: "GSR 12V-15", Kind: "Power tool"},
		{RefKey: "ERP-000108", Name: "Power tool Makita DF333D", Brand: "Makita", Article: "DF333D", Kind: "Power tool"},
		{RefKey: "ERP-000109", Name: "Monitor Dell P2422H", Brand: "Dell", Article: "P2422H", Kind: "Monitor"},
		{RefKey: "ERP-000110", Name: "Mouse pad SteelSeries QcK", Brand: "SteelSeries", Article: "QcK", Kind: "Accessory"},
	}
}
