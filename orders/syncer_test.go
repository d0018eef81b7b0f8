// ABOUTME: Tests for the cache-first domain sync adapters.
// ABOUTME: Covers cache hits, wholesale replace, failure fallback, and enrichment.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mealsync/session"
	"mealsync/store"
)

// fakeRows serves canned rows per table and counts queries.
type fakeRows struct {
	mu    sync.Mutex
	calls map[string]int
	rows  map[string][]json.RawMessage
	err   error
}

func newFakeRows() *fakeRows {
	return &fakeRows{
		calls: make(map[string]int),
		rows:  make(map[string][]json.RawMessage),
	}
}

func (f *fakeRows) QueryRows(ctx context.Context, table string, q session.Query) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[table]++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[table], nil
}

func (f *fakeRows) count(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[table]
}

func (f *fakeRows) setOrders(orders ...Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]json.RawMessage, 0, len(orders))
	for _, o := range orders {
		b, _ := json.Marshal(o)
		rows = append(rows, b)
	}
	f.rows["orders"] = rows
}

func (f *fakeRows) setRestaurants(rs ...Restaurant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]json.RawMessage, 0, len(rs))
	for _, r := range rs {
		b, _ := json.Marshal(r)
		rows = append(rows, b)
	}
	f.rows["restaurants"] = rows
}

func testOrder(id string, created time.Time) Order {
	return Order{
		ID:           id,
		CustomerID:   "usr_1",
		RestaurantID: "rest_1",
		Status:       StatusPending,
		TotalCents:   1250,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func openCache(t *testing.T) *store.Store {
	t.Helper()
	cache, err := store.Open(filepath.Join(t.TempDir(), "cache.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestFetchCacheFirstIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cache := openCache(t)
	rows := newFakeRows()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	rows.setOrders(testOrder("o2", base.Add(time.Hour)), testOrder("o1", base))
	syncer := NewOrders(cache, rows, nil, zerolog.Nop())

	first, err := syncer.Fetch(ctx, "usr_1", false)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := syncer.Fetch(ctx, "usr_1", false)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if rows.count("orders") != 1 {
		t.Fatalf("expected at most one network query, got %d", rows.count("orders"))
	}
	if len(first) != len(second) {
		t.Fatalf("fetches differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("fetches differ at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestFetchReturnsNewestFirst(t *testing.T) {
	ctx := context.Background()
	cache := openCache(t)
	rows := newFakeRows()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	rows.setOrders(
		testOrder("o3", base.Add(2*time.Hour)),
		testOrder("o2", base.Add(time.Hour)),
		testOrder("o1", base),
	)
	syncer := NewOrders(cache, rows, nil, zerolog.Nop())

	fresh, err := syncer.Fetch(ctx, "usr_1", false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	assertIDs(t, fresh, "o3", "o2", "o1")

	// The cached read preserves the ordering contract too.
	cached, err := syncer.Fetch(ctx, "usr_1", false)
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	assertIDs(t, cached, "o3", "o2", "o1")
}

func TestFetchWithoutOwnerFailsFast(t *testing.T) {
	ctx := context.Background()
	cache := openCache(t)
	rows := newFakeRows()
	syncer := NewOrders(cache, rows, nil, zerolog.Nop())

	_, err := syncer.Fetch(ctx, "", false)
	if !errors.Is(err, session.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
	if rows.count("orders") != 0 {
		t.Fatal("fetch without an owner must not call the network")
	}
}

func TestForceRefreshReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	cache := openCache(t)
	rows := newFakeRows()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	rows.setOrders(testOrder("o1", base), testOrder("o2", base.Add(time.Hour)))
	syncer := NewOrders(cache, rows, nil, zerolog.Nop())

	if _, err := syncer.Fetch(ctx, "usr_1", false); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}

	// Server now has a single cancelled order; the old set must vanish.
	cancelled := testOrder("o9", base.Add(2*time.Hour))
	cancelled.Status = StatusCancelled
	rows.setOrders(cancelled)

	fresh, err := syncer.Fetch(ctx, "usr_1", true)
	if err != nil {
		t.Fatalf("forced fetch: %v", err)
	}
	assertIDs(t, fresh, "o9")

	cached, err := syncer.Fetch(ctx, "usr_1", false)
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	assertIDs(t, cached, "o9")
	if rows.count("orders") != 2 {
		t.Fatalf("expected 2 network queries, got %d", rows.count("orders"))
	}
}

func TestFetchFailureLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	cache := openCache(t)
	rows := newFakeRows()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	rows.setOrders(testOrder("o1", base))
	syncer := NewOrders(cache, rows, nil, zerolog.Nop())

	if _, err := syncer.Fetch(ctx, "usr_1", false); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}

	rows.mu.Lock()
	rows.err = &session.OpError{Op: "query_rows", Err: session.ErrRemoteRejected}
	rows.mu.Unlock()

	if _, err := syncer.Fetch(ctx, "usr_1", true); !errors.Is(err, session.ErrRemoteRejected) {
		t.Fatalf("expected ErrRemoteRejected, got %v", err)
	}

	rows.mu.Lock()
	rows.err = nil
	rows.mu.Unlock()

	cached, err := syncer.Fetch(ctx, "usr_1", false)
	if err != nil {
		t.Fatalf("cached fetch after failure: %v", err)
	}
	assertIDs(t, cached, "o1")
}

func TestFetchEnrichesWithRestaurantProfiles(t *testing.T) {
	ctx := context.Background()
	cache := openCache(t)
	rows := newFakeRows()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	rows.setOrders(testOrder("o1", base))
	rows.setRestaurants(Restaurant{
		ID: "rest_1", OwnerID: "own_1", Name: "Taco Palace", Address: "1 Main St", CreatedAt: base,
	})

	restaurants := NewRestaurants(cache, rows, zerolog.Nop())
	syncer := NewOrders(cache, rows, restaurants, zerolog.Nop())

	list, err := syncer.Fetch(ctx, "usr_1", false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(list) != 1 || list[0].Restaurant == nil {
		t.Fatalf("expected enriched order, got %+v", list)
	}
	if list[0].Restaurant.Name != "Taco Palace" {
		t.Fatalf("wrong join: %+v", list[0].Restaurant)
	}

	// The join is in-memory only; the cached record carries no restaurant
	// snapshot.
	blobs, err := cache.GetAll(ctx, "orders/usr_1")
	if err != nil {
		t.Fatalf("read cache: %v", err)
	}
	for _, b := range blobs {
		if strings.Contains(string(b), "Taco Palace") {
			t.Fatal("enrichment must not be persisted")
		}
	}
}

func TestEnrichmentFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	cache := openCache(t)

	orderRows := newFakeRows()
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	orderRows.setOrders(testOrder("o1", base))

	restaurantRows := newFakeRows()
	restaurantRows.err = fmt.Errorf("restaurants down: %w", session.ErrRemoteRejected)

	restaurants := NewRestaurants(cache, restaurantRows, zerolog.Nop())
	syncer := NewOrders(cache, orderRows, restaurants, zerolog.Nop())

	list, err := syncer.Fetch(ctx, "usr_1", false)
	if err != nil {
		t.Fatalf("fetch should succeed without enrichment: %v", err)
	}
	if len(list) != 1 || list[0].Restaurant != nil {
		t.Fatalf("expected unenriched order, got %+v", list)
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusInProgress, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func assertIDs(t *testing.T, list []Order, want ...string) {
	t.Helper()
	if len(list) != len(want) {
		t.Fatalf("expected %d orders, got %d", len(want), len(list))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("order %d: got %s want %s", i, list[i].ID, id)
		}
	}
}
