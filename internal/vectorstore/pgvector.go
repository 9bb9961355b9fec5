package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"manifest/internal/core"
)

// PgVectorStore runs against a plain Postgres database with the pgvector
// extension, bypassing PostgREST. Useful for self-hosted deployments.
type PgVectorStore struct {
	db *sql.DB
}

// NewPgVector opens a connection pool to the given database.
func NewPgVector(connString string) (*PgVectorStore, error) {
	if connString == "" {
		return nil, fmt.Errorf("database connection string is required")
	}
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return &PgVectorStore{db: db}, nil
}

// Close releases the connection pool.
func (p *PgVectorStore) Close() error { return p.db.Close() }

// formatVector renders a float32 slice in pgvector's text format: "[1,2,3]".
func formatVector(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// classify maps Postgres error codes onto the store's sentinel errors.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42P01", "42883": // undefined_table, undefined_function
			return fmt.Errorf("%w: %v, run the migrations", ErrSchema, err)
		}
	}
	return err
}

// nullString maps an empty optional column to SQL null.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Upsert inserts or replaces the row keyed by id.
func (p *PgVectorStore) Upsert(ctx context.Context, rec Record) error {
	var weight sql.NullFloat64
	if rec.WeightGrams != nil {
		weight = sql.NullFloat64{Float64: *rec.WeightGrams, Valid: true}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, category, domain, weight_grams, image_url,
			primary_material, weight_estimate, thermal_rating, water_resistance,
			medical_application, utility_summary, semantic_tags, durability,
			compressibility, quantity, embedding, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17::vector, $18)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			domain = EXCLUDED.domain,
			weight_grams = EXCLUDED.weight_grams,
			image_url = EXCLUDED.image_url,
			primary_material = EXCLUDED.primary_material,
			weight_estimate = EXCLUDED.weight_estimate,
			thermal_rating = EXCLUDED.thermal_rating,
			water_resistance = EXCLUDED.water_resistance,
			medical_application = EXCLUDED.medical_application,
			utility_summary = EXCLUDED.utility_summary,
			semantic_tags = EXCLUDED.semantic_tags,
			durability = EXCLUDED.durability,
			compressibility = EXCLUDED.compressibility,
			quantity = EXCLUDED.quantity,
			embedding = EXCLUDED.embedding,
			user_id = EXCLUDED.user_id`, tableName)

	_, err := p.db.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.Category, rec.Domain, weight, nullString(rec.ImageURL),
		nullString(rec.PrimaryMaterial), nullString(rec.WeightEstimate),
		nullString(rec.ThermalRating), nullString(rec.WaterResistance),
		nullString(rec.MedicalApplication), rec.UtilitySummary,
		pq.Array(rec.SemanticTags), nullString(rec.Durability),
		nullString(rec.Compressibility), rec.Quantity,
		formatVector(rec.Embedding), nullString(rec.UserID))
	if err != nil {
		return fmt.Errorf("upsert failed: %w", classify(err))
	}
	return nil
}

// itemColumns is the flat column list shared by Search and ListAll, in scan
// order. Optional text columns are coalesced so they scan into plain strings.
const itemColumns = `id, name, category, domain, weight_grams,
	COALESCE(image_url, ''), COALESCE(primary_material, ''),
	COALESCE(weight_estimate, ''), COALESCE(thermal_rating, ''),
	COALESCE(water_resistance, ''), COALESCE(medical_application, ''),
	utility_summary, semantic_tags, COALESCE(durability, ''),
	COALESCE(compressibility, ''), quantity, COALESCE(user_id, '')`

// scanRecord reads one row of itemColumns.
func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec    Record
		weight sql.NullFloat64
		tags   pq.StringArray
	)
	err := rows.Scan(&rec.ID, &rec.Name, &rec.Category, &rec.Domain, &weight,
		&rec.ImageURL, &rec.PrimaryMaterial, &rec.WeightEstimate,
		&rec.ThermalRating, &rec.WaterResistance, &rec.MedicalApplication,
		&rec.UtilitySummary, &tags, &rec.Durability,
		&rec.Compressibility, &rec.Quantity, &rec.UserID)
	if err != nil {
		return Record{}, err
	}
	if weight.Valid {
		w := weight.Float64
		rec.WeightGrams = &w
	}
	rec.SemanticTags = tags
	return rec, nil
}

// Search calls the match_manifest_items SQL function.
func (p *PgVectorStore) Search(ctx context.Context, vector []float32, opts SearchOptions) ([]core.RetrievedItem, error) {
	var category, userID sql.NullString
	if opts.Category != "" {
		category = sql.NullString{String: opts.Category, Valid: true}
	}
	if opts.UserID != "" {
		userID = sql.NullString{String: opts.UserID, Valid: true}
	}

	query := fmt.Sprintf("SELECT %s, similarity FROM %s($1::vector, $2, $3, $4)", itemColumns, matchFunction)

	rows, err := p.db.QueryContext(ctx, query, formatVector(vector), opts.TopK, category, userID)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", classify(err))
	}
	defer rows.Close()

	var items []core.RetrievedItem
	for rows.Next() {
		var (
			rec    Record
			weight sql.NullFloat64
			tags   pq.StringArray
			score  float64
		)
		err := rows.Scan(&rec.ID, &rec.Name, &rec.Category, &rec.Domain, &weight,
			&rec.ImageURL, &rec.PrimaryMaterial, &rec.WeightEstimate,
			&rec.ThermalRating, &rec.WaterResistance, &rec.MedicalApplication,
			&rec.UtilitySummary, &tags, &rec.Durability,
			&rec.Compressibility, &rec.Quantity, &rec.UserID, &score)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		rec.SemanticTags = tags
		item := core.RetrievedItem{
			ItemID:   rec.ID,
			Score:    score,
			ImageURL: rec.ImageURL,
			Context:  rec.Context(),
		}
		if weight.Valid {
			item.WeightGrams = weight.Float64
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search iteration failed: %w", err)
	}
	return items, nil
}

// Delete removes a row by id.
func (p *PgVectorStore) Delete(ctx context.Context, itemID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", tableName)
	if _, err := p.db.ExecContext(ctx, query, itemID); err != nil {
		return fmt.Errorf("delete failed: %w", classify(err))
	}
	return nil
}

// Count returns the number of stored items.
func (p *PgVectorStore) Count(ctx context.Context) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", tableName)
	if err := p.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count failed: %w", classify(err))
	}
	return count, nil
}

// ListAll returns every row without its embedding; callers re-embed from the
// stored context and image.
func (p *PgVectorStore) ListAll(ctx context.Context) ([]Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id", itemColumns, tableName)

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", classify(err))
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan list row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list iteration failed: %w", err)
	}
	return records, nil
}
