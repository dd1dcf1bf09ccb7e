package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	errs "igharvest/pkg/errors"
	"igharvest/pkg/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ProductFilter narrows ListProducts.
type ProductFilter struct {
	Limit      int
	Title      string // case-insensitive substring
	SourceKind string
	SourceID   string
}

const productColumns = `id, provider_id, title, market_prices, image_url, description,
	source_kind, source_id, media_digest, raw_data, created_at, updated_at`

// UpsertProduct inserts p or overwrites the row with the same id. The
// original created_at is kept.
func (s *Store) UpsertProduct(ctx context.Context, p *models.Product) error {
	if strings.TrimSpace(p.Title) == "" {
		return errs.New(errs.ErrorTypePersistence, 0, "product %s has no title", p.ID)
	}
	prices := p.MarketPrices
	if prices == nil {
		prices = []models.MarketPrice{}
	}
	pricesJSON, err := json.Marshal(prices)
	if err != nil {
		return persistErr("encode market prices", err)
	}
	var raw interface{}
	if len(p.Raw) > 0 {
		raw = string(p.Raw)
	}

	ts := now()
	_, err = s.exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			provider_id   = excluded.provider_id,
			title         = excluded.title,
			market_prices = excluded.market_prices,
			image_url     = excluded.image_url,
			description   = excluded.description,
			source_kind   = excluded.source_kind,
			source_id     = excluded.source_id,
			media_digest  = excluded.media_digest,
			raw_data      = excluded.raw_data,
			updated_at    = excluded.updated_at`,
		p.ID, p.ProviderID, p.Title, string(pricesJSON), p.ImageURL, p.Description,
		p.SourceKind, p.SourceID, p.MediaDigest, raw, ts, ts,
	)
	if err != nil {
		return persistErr("upsert product", err)
	}
	p.UpdatedAt = ts
	if p.CreatedAt.IsZero() {
		p.CreatedAt = ts
	}
	return nil
}

// GetProduct returns the product with id.
func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	row := s.queryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.ErrorTypeNotFound, http.StatusNotFound, "product %s not found", id)
	}
	if err != nil {
		return nil, persistErr("get product", err)
	}
	return p, nil
}

// ListProducts returns the most recently updated products matching f.
func (s *Store) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var (
		where []string
		args  []interface{}
	)
	if t := strings.TrimSpace(f.Title); t != "" {
		where = append(where, "LOWER(title) LIKE ?")
		args = append(args, "%"+strings.ToLower(t)+"%")
	}
	if f.SourceKind != "" {
		where = append(where, "source_kind = ?")
		args = append(args, f.SourceKind)
	}
	if f.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, f.SourceID)
	}

	q := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY updated_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, persistErr("list products", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, persistErr("scan product", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list products", err)
	}
	return products, nil
}

// CountProducts returns the number of stored products.
func (s *Store) CountProducts(ctx context.Context) (int, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, persistErr("count products", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(sc scanner) (*models.Product, error) {
	var (
		p          models.Product
		pricesJSON []byte
		raw        []byte
		created    timeValue
		updated    timeValue
	)
	err := sc.Scan(&p.ID, &p.ProviderID, &p.Title, &pricesJSON, &p.ImageURL, &p.Description,
		&p.SourceKind, &p.SourceID, &p.MediaDigest, &raw, &created, &updated)
	if err != nil {
		return nil, err
	}
	p.MarketPrices = []models.MarketPrice{}
	if len(pricesJSON) > 0 {
		if err := json.Unmarshal(pricesJSON, &p.MarketPrices); err != nil {
			return nil, err
		}
	}
	if len(raw) > 0 {
		p.Raw = json.RawMessage(raw)
	}
	p.CreatedAt = created.t
	p.UpdatedAt = updated.t
	return &p, nil
}
