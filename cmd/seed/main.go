package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math/rand"

	"github.com/moralespanitz/compass-project/pkg/config"
	"github.com/moralespanitz/compass-project/pkg/storage"
)

// demoTable describes one seeded relation: rows drawn from [lo, hi).
type demoTable struct {
	name   string
	rows   int
	lo, hi int
}

// table_a and table_b share most of their key range; table_c barely
// touches it, so a good plan joins a and b first.
var demoTables = []demoTable{
	{name: "table_a", rows: 50000, lo: 1, hi: 5000},
	{name: "table_b", rows: 20000, lo: 1, hi: 6000},
	{name: "table_c", rows: 10000, lo: 5800, hi: 20000},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()
	dialect := cfg.Dialect()
	db, err := storage.Open(ctx, dialect, cfg.DBDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store, err := storage.NewStore(db, dialect, cfg.CacheSize)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	if err := store.EnsureMetaTables(ctx); err != nil {
		log.Fatalf("meta tables: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	for _, t := range demoTables {
		if err := seedTable(ctx, db, dialect, rng, t); err != nil {
			log.Fatalf("seed %s: %v", t.name, err)
		}
		if err := store.UpsertTableRowCount(ctx, t.name, int64(t.rows)); err != nil {
			log.Fatalf("row count %s: %v", t.name, err)
		}
		log.Printf("Seeded %s with %d rows", t.name, t.rows)
	}
	fmt.Println("Seed done.")
}

func seedTable(ctx context.Context, db *sql.DB, dialect storage.Dialect, rng *rand.Rand, t demoTable) error {
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+t.name); err != nil {
		return fmt.Errorf("drop: %v", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE "+t.name+" (id INTEGER PRIMARY KEY, value INTEGER)"); err != nil {
		return fmt.Errorf("create: %v", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %v", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, dialect.Rebind("INSERT INTO "+t.name+" (id, value) VALUES (?, ?)"))
	if err != nil {
		return fmt.Errorf("prepare statement: %v", err)
	}
	defer stmt.Close()

	// Skewed draw: small keys are more frequent.
	span := float64(t.hi - t.lo)
	for i := 0; i < t.rows; i++ {
		u := rng.Float64()
		v := t.lo + int(u*u*span)
		if _, err := stmt.ExecContext(ctx, i+1, v); err != nil {
			return fmt.Errorf("insert record %d: %v", i, err)
		}
		if i%10000 == 0 && i > 0 {
			log.Printf("Inserted %d/%d %s records...", i, t.rows, t.name)
		}
	}
	return tx.Commit()
}
