package orders

import (
	"context"

	"github.com/rs/zerolog"

	"mealsync/session"
	"mealsync/store"
)

// Restaurants syncs the shared restaurant-profile reference collection.
type Restaurants struct {
	ad adapter[Restaurant]
}

// NewRestaurants builds the restaurant-profile syncer.
func NewRestaurants(cache *store.Store, rows session.RowQuerier, log zerolog.Logger) *Restaurants {
	return &Restaurants{ad: adapter[Restaurant]{
		cache:      cache,
		rows:       rows,
		log:        log,
		op:         "fetch_restaurants",
		table:      "restaurants",
		collection: func(string) string { return "restaurants" },
		filter:     func(string) map[string]string { return nil },
		key:        func(r Restaurant) string { return r.ID },
		newerFirst: func(a, b Restaurant) bool { return a.CreatedAt.After(b.CreatedAt) },
	}}
}

// Fetch returns the cached profiles, or refreshes from the remote service on
// miss or when forceRefresh is set.
func (r *Restaurants) Fetch(ctx context.Context, forceRefresh bool) ([]Restaurant, error) {
	return r.ad.fetch(ctx, "", forceRefresh)
}

// Invalidate drops the cached profiles.
func (r *Restaurants) Invalidate(ctx context.Context) error {
	return r.ad.invalidate(ctx, "")
}

// Orders syncs a customer's order collection, cache-first, newest first.
type Orders struct {
	ad          adapter[Order]
	restaurants *Restaurants
	log         zerolog.Logger
}

// NewOrders builds the order syncer. restaurants supplies the enrichment
// join; pass nil to skip enrichment.
func NewOrders(cache *store.Store, rows session.RowQuerier, restaurants *Restaurants, log zerolog.Logger) *Orders {
	return &Orders{
		ad: adapter[Order]{
			cache:        cache,
			rows:         rows,
			log:          log,
			op:           "fetch_orders",
			table:        "orders",
			collection:   func(ownerID string) string { return "orders/" + ownerID },
			filter:       func(ownerID string) map[string]string { return map[string]string{"customer_id": ownerID} },
			requireOwner: true,
			key:          func(o Order) string { return o.ID },
			newerFirst:   func(a, b Order) bool { return a.CreatedAt.After(b.CreatedAt) },
		},
		restaurants: restaurants,
		log:         log,
	}
}

// Fetch returns the owner's orders, newest first. Cache hits return without
// a network call; misses and forced refreshes query the remote service and
// replace the cached collection wholesale. Every successful fetch recomputes
// the restaurant join in memory; the join is never persisted.
func (o *Orders) Fetch(ctx context.Context, ownerID string, forceRefresh bool) ([]Order, error) {
	list, err := o.ad.fetch(ctx, ownerID, forceRefresh)
	if err != nil {
		return nil, err
	}
	o.enrich(ctx, list)
	return list, nil
}

// Invalidate drops the owner's cached orders.
func (o *Orders) Invalidate(ctx context.Context, ownerID string) error {
	return o.ad.invalidate(ctx, ownerID)
}

func (o *Orders) enrich(ctx context.Context, list []Order) {
	if o.restaurants == nil || len(list) == 0 {
		return
	}
	profiles, err := o.restaurants.Fetch(ctx, false)
	if err != nil {
		// Enrichment is best-effort; orders are still usable without it.
		o.log.Warn().Err(err).Msg("restaurant join skipped")
		return
	}
	byID := make(map[string]*Restaurant, len(profiles))
	for i := range profiles {
		byID[profiles[i].ID] = &profiles[i]
	}
	for i := range list {
		if r, ok := byID[list[i].RestaurantID]; ok {
			cp := *r
			list[i].Restaurant = &cp
		}
	}
}
