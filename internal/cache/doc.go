// Package cache provides the request cache that sits in front of the
// vendor API.
//
// Entries are keyed strings ("realInfo:<id>", "devices:<email>") held in a
// patrickmn/go-cache store with per-entry expiry. A read either returns a
// live entry or calls the supplied fetcher and stores its result; failures
// are never cached. Keys can be kept warm by background refresh tasks, one
// per key. Invalidating a key while its fetcher runs keeps that result
// out of the store.
//
// Usage:
//
//	c := cache.New(cache.Options{CleanupInterval: 5 * time.Minute})
//	defer c.Close()
//
//	snap, err := cache.Fetch(ctx, c, cache.RealInfoKey(id), 2*time.Minute, false,
//	    func(ctx context.Context) (petlibro.Snapshot, error) {
//	        return client.RealInfo(ctx, id)
//	    })
//
// Thread Safety: all methods are safe for concurrent use.
package cache
