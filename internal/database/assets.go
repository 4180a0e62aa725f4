package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound is returned when a cache entry or preference does not exist.
var ErrNotFound = errors.New("not found")

// CachedAsset is one stored response.
type CachedAsset struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// AssetStats summarizes the asset cache.
type AssetStats struct {
	Entries int
	Bytes   int64
}

const upsertAssetQuery = `
	INSERT INTO cached_assets (url, status, header, body, stored_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		status = excluded.status,
		header = excluded.header,
		body = excluded.body,
		stored_at = excluded.stored_at
`

func encodeHeader(h http.Header) (string, error) {
	if h == nil {
		return "{}", nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode header: %w", err)
	}
	return string(data), nil
}

// PutAsset stores or replaces the cached response for asset.URL.
func (d *Database) PutAsset(ctx context.Context, asset *CachedAsset) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("put_asset", start, err) }()

	header, err := encodeHeader(asset.Header)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, upsertAssetQuery,
		asset.URL, asset.Status, header, asset.Body, storedAt(asset).Unix())
	return err
}

// PutAssetBatch stores an asset inside a batch started by BeginBatch.
func (d *Database) PutAssetBatch(ctx context.Context, b *Batch, asset *CachedAsset) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("put_asset", start, err) }()

	header, err := encodeHeader(asset.Header)
	if err != nil {
		return err
	}

	_, err = b.tx.ExecContext(ctx, upsertAssetQuery,
		asset.URL, asset.Status, header, asset.Body, storedAt(asset).Unix())
	return err
}

func storedAt(asset *CachedAsset) time.Time {
	if asset.StoredAt.IsZero() {
		return time.Now()
	}
	return asset.StoredAt
}

// GetAsset returns the cached response for url, or ErrNotFound.
func (d *Database) GetAsset(ctx context.Context, url string) (*CachedAsset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_asset", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var (
		asset    CachedAsset
		header   string
		storedTS int64
	)
	err = d.db.QueryRowContext(ctx,
		"SELECT url, status, header, body, stored_at FROM cached_assets WHERE url = ?", url,
	).Scan(&asset.URL, &asset.Status, &header, &asset.Body, &storedTS)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if err = json.Unmarshal([]byte(header), &asset.Header); err != nil {
		return nil, fmt.Errorf("decode header for %s: %w", url, err)
	}
	asset.StoredAt = time.Unix(storedTS, 0)
	return &asset, nil
}

// DeleteAsset removes the cached response for url.
func (d *Database) DeleteAsset(ctx context.Context, url string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_asset", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "DELETE FROM cached_assets WHERE url = ?", url)
	return err
}

// AssetStats counts cached entries and their body bytes.
func (d *Database) AssetStats(ctx context.Context) (AssetStats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("asset_stats", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var stats AssetStats
	err = d.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(LENGTH(body)), 0) FROM cached_assets",
	).Scan(&stats.Entries, &stats.Bytes)
	return stats, err
}
