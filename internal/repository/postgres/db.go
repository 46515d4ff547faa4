package postgres

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/quickshop-io/checkout-engine/internal/entity"
)

// InitDB opens the connection pool, verifies it and applies the schema.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Info("Database connected and migrated")
	return db, nil
}

func migrateDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS variants (
			id TEXT PRIMARY KEY,
			sku TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			price NUMERIC(12,2) NOT NULL DEFAULT 0,
			stock INT NOT NULL DEFAULT 0 CHECK (stock >= 0),
			active BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS discount_codes (
			code TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			value NUMERIC(12,2) NOT NULL DEFAULT 0,
			starts_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			max_uses INT NOT NULL DEFAULT 0,
			uses_per_customer INT NOT NULL DEFAULT 0,
			minimum_purchase NUMERIC(12,2) NOT NULL DEFAULT 0,
			used_count INT NOT NULL DEFAULT 0 CHECK (used_count >= 0),
			active BOOLEAN NOT NULL DEFAULT TRUE
		);

		CREATE TABLE IF NOT EXISTS carts (
			id TEXT PRIMARY KEY,
			owner_kind TEXT NOT NULL,
			owner_key TEXT NOT NULL,
			discount_code TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (owner_kind, owner_key)
		);

		CREATE TABLE IF NOT EXISTS cart_items (
			cart_id TEXT NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
			variant_id TEXT NOT NULL REFERENCES variants(id),
			quantity INT NOT NULL CHECK (quantity > 0),
			PRIMARY KEY (cart_id, variant_id)
		);

		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			order_number TEXT NOT NULL UNIQUE,
			owner_kind TEXT NOT NULL,
			owner_key TEXT NOT NULL,
			subtotal NUMERIC(12,2) NOT NULL DEFAULT 0,
			discount_code TEXT,
			discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			shipping NUMERIC(12,2) NOT NULL DEFAULT 0,
			tax NUMERIC(12,2) NOT NULL DEFAULT 0,
			total NUMERIC(12,2) NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			payment_status TEXT NOT NULL DEFAULT 'pending',
			payment_reference TEXT NOT NULL DEFAULT '',
			placed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_orders_owner ON orders (owner_kind, owner_key, placed_at DESC);
		CREATE INDEX IF NOT EXISTS idx_orders_discount ON orders (discount_code) WHERE discount_code IS NOT NULL;

		CREATE TABLE IF NOT EXISTS order_items (
			order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			variant_id TEXT NOT NULL,
			sku TEXT NOT NULL,
			name TEXT NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL,
			quantity INT NOT NULL CHECK (quantity > 0),
			line_total NUMERIC(12,2) NOT NULL,
			PRIMARY KEY (order_id, variant_id)
		);

		CREATE TABLE IF NOT EXISTS order_events (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events (order_id, created_at);
	`)
	return err
}

// SeedDemoData inserts a demo catalog and discount codes. Existing rows are
// left alone, so it is safe to run on every start.
func SeedDemoData(db *sql.DB) error {
	variants := []entity.Variant{
		{ID: uuid.NewString(), SKU: "TEE-BLK-M", Name: "Black Tee (M)", Price: decimal.RequireFromString("19.90"), Stock: 120, Active: true},
		{ID: uuid.NewString(), SKU: "TEE-BLK-L", Name: "Black Tee (L)", Price: decimal.RequireFromString("19.90"), Stock: 80, Active: true},
		{ID: uuid.NewString(), SKU: "HOOD-GRY-M", Name: "Grey Hoodie (M)", Price: decimal.RequireFromString("49.50"), Stock: 35, Active: true},
		{ID: uuid.NewString(), SKU: "CAP-NVY", Name: "Navy Cap", Price: decimal.RequireFromString("14.00"), Stock: 200, Active: true},
		{ID: uuid.NewString(), SKU: "MUG-WHT", Name: "White Mug", Price: decimal.RequireFromString("9.75"), Stock: 6, Active: true},
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM variants").Scan(&count); err != nil {
		return fmt.Errorf("failed to count variants: %w", err)
	}
	if count == 0 {
		for _, v := range variants {
			_, err := db.Exec(
				"INSERT INTO variants (id, sku, name, price, stock, active) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (sku) DO NOTHING",
				v.ID, v.SKU, v.Name, v.Price, v.Stock, v.Active,
			)
			if err != nil {
				return fmt.Errorf("failed to seed variant %s: %w", v.SKU, err)
			}
		}
		slog.Info("Seeded demo variants", "count", len(variants))
	}

	now := time.Now().UTC()
	discounts := []entity.DiscountCode{
		{Code: "WELCOME10", Kind: entity.DiscountPercentage, Value: decimal.RequireFromString("10"), StartsAt: now.AddDate(0, -1, 0), ExpiresAt: now.AddDate(1, 0, 0), UsesPerCustomer: 1, Active: true},
		{Code: "SAVE5", Kind: entity.DiscountFixed, Value: decimal.RequireFromString("5.00"), StartsAt: now.AddDate(0, -1, 0), ExpiresAt: now.AddDate(0, 3, 0), MinimumPurchase: decimal.RequireFromString("25.00"), Active: true},
		{Code: "FLASH50", Kind: entity.DiscountPercentage, Value: decimal.RequireFromString("50"), StartsAt: now, ExpiresAt: now.AddDate(0, 0, 2), MaxUses: 100, UsesPerCustomer: 1, MinimumPurchase: decimal.RequireFromString("40.00"), Active: true},
	}
	for _, d := range discounts {
		_, err := db.Exec(
			`INSERT INTO discount_codes (code, kind, value, starts_at, expires_at, max_uses, uses_per_customer, minimum_purchase, active)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (code) DO NOTHING`,
			d.Code, d.Kind, d.Value, d.StartsAt, d.ExpiresAt, d.MaxUses, d.UsesPerCustomer, d.MinimumPurchase, d.Active,
		)
		if err != nil {
			return fmt.Errorf("failed to seed discount %s: %w", d.Code, err)
		}
	}
	return nil
}
