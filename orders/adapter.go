// ABOUTME: Generic cache-then-refresh protocol shared by all record collections.
// ABOUTME: Strict cache-first: staleness is bounded only by explicit force-refresh.
package orders

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rs/zerolog"

	"mealsync/session"
	"mealsync/store"
)

// adapter implements the common fetch-with-local-fallback shape for one
// record collection. Collections are replaced wholesale on every successful
// remote refresh; a failed refresh leaves the cached set untouched.
type adapter[T any] struct {
	cache *store.Store
	rows  session.RowQuerier
	log   zerolog.Logger

	op    string
	table string
	// collection maps an owner id to the cache collection name.
	collection func(ownerID string) string
	// filter maps an owner id to the remote query filter.
	filter func(ownerID string) map[string]string
	// requireOwner rejects network fetches without an authenticated owner.
	requireOwner bool
	key          func(T) string
	newerFirst   func(a, b T) bool
}

func (a *adapter[T]) fetch(ctx context.Context, ownerID string, forceRefresh bool) ([]T, error) {
	collection := a.collection(ownerID)

	if !forceRefresh {
		if cached := a.loadCached(ctx, collection); len(cached) > 0 {
			return cached, nil
		}
	}

	if a.requireOwner && ownerID == "" {
		return nil, &session.OpError{Op: a.op, Err: session.ErrNoCredential, Detail: "no current user"}
	}

	raw, err := a.rows.QueryRows(ctx, a.table, session.Query{
		Filter:     a.filter(ownerID),
		OrderBy:    "created_at",
		Descending: true,
	})
	if err != nil {
		// The previously cached set, if any, stays untouched for the next
		// cache-first read.
		return nil, err
	}

	records := make([]T, 0, len(raw))
	keys := make([]string, 0, len(raw))
	blobs := make([][]byte, 0, len(raw))
	for _, r := range raw {
		var rec T
		if err := json.Unmarshal(r, &rec); err != nil {
			return nil, &session.OpError{Op: a.op, Err: session.ErrDecode, Detail: err.Error()}
		}
		records = append(records, rec)
		keys = append(keys, a.key(rec))
		blobs = append(blobs, []byte(r))
	}

	if err := a.cache.Replace(ctx, collection, keys, blobs); err != nil {
		// Cache write failure degrades to a warning; the fresh set is
		// still returned to the caller.
		a.log.Warn().Err(err).Str("collection", collection).Msg("cache refresh write failed")
	}
	return records, nil
}

// loadCached returns the cached set, newest first, or nil on miss/failure.
func (a *adapter[T]) loadCached(ctx context.Context, collection string) []T {
	blobs, err := a.cache.GetAll(ctx, collection)
	if err != nil {
		a.log.Warn().Err(err).Str("collection", collection).Msg("cache read failed, treating as empty")
		return nil
	}
	records := make([]T, 0, len(blobs))
	for _, b := range blobs {
		var rec T
		if err := json.Unmarshal(b, &rec); err != nil {
			a.log.Warn().Err(err).Str("collection", collection).Msg("cached record corrupted, treating collection as empty")
			return nil
		}
		records = append(records, rec)
	}
	if a.newerFirst != nil {
		sort.SliceStable(records, func(i, j int) bool { return a.newerFirst(records[i], records[j]) })
	}
	return records
}

// invalidate drops the cached collection so the next read goes remote.
func (a *adapter[T]) invalidate(ctx context.Context, ownerID string) error {
	return a.cache.DeleteAll(ctx, a.collection(ownerID))
}
