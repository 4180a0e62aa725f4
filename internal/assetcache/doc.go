// Package assetcache implements the network-first asset cache.
//
// At startup Install fetches a fixed list of assets from the upstream and
// stores them in one transaction: either every asset is cached or none is.
// Afterwards every request that is not a download or a ping is answered by
// Fetch, which asks the upstream first, refreshes the cached copy on
// success and falls back to the cached copy when the upstream cannot be
// reached. URLs matching a bypass pattern are forwarded without touching
// the cache.
package assetcache
