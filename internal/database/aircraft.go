package database

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"vdl2_feed/internal/models"
)

type AircraftRepository interface {
	FindByICAO(ctx context.Context, icao string) (*models.Aircraft, error)
	InsertBatch(aircraft []*models.Aircraft) error
	IsTablePopulated() (bool, error)
	LoadFromMultipleCSV(csvPaths []string, batchSize int) error
}

type aircraftRepository struct {
	db *sql.DB
}

func NewAircraftRepository(db *sql.DB) AircraftRepository {
	return &aircraftRepository{db: db}
}

// FindByICAO looks up one aircraft by exact address. Returns ErrNotFound on a miss.
// Columns are coalesced because externally maintained tables leave many of them NULL.
func (r *aircraftRepository) FindByICAO(ctx context.Context, icao string) (*models.Aircraft, error) {
	row := r.db.QueryRowContext(ctx, `SELECT
		icao,
		COALESCE(reg, ''),
		COALESCE(icaotype, ''),
		COALESCE(model, ''),
		COALESCE(manufacturer, ''),
		COALESCE(ownop, ''),
		COALESCE(short_type, ''),
		COALESCE(CAST(year AS TEXT), ''),
		COALESCE(mil, 0) != 0,
		COALESCE(pia, 0) != 0,
		COALESCE(ladd, 0) != 0
	FROM aircraft WHERE icao = ?`, icao)

	ac := &models.Aircraft{}
	err := row.Scan(
		&ac.ICAO, &ac.Registration, &ac.ICAOType, &ac.Model, &ac.Manufacturer,
		&ac.OwnerOp, &ac.ShortType, &ac.Year, &ac.Military, &ac.PIA, &ac.LADD,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query aircraft %s: %w", icao, err)
	}
	return ac, nil
}

// InsertBatch inserts one or more aircraft records in a single transaction
func (r *aircraftRepository) InsertBatch(aircraft []*models.Aircraft) error {
	if len(aircraft) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO aircraft (
		icao, reg, icaotype, model, manufacturer, ownop, short_type, year, mil, pia, ladd
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ac := range aircraft {
		if _, err := stmt.Exec(
			ac.ICAO, ac.Registration, ac.ICAOType, ac.Model, ac.Manufacturer,
			ac.OwnerOp, ac.ShortType, ac.Year, ac.Military, ac.PIA, ac.LADD,
		); err != nil {
			return fmt.Errorf("failed to insert aircraft: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *aircraftRepository) IsTablePopulated() (bool, error) {
	var ignored int
	err := r.db.QueryRow("SELECT 1 FROM aircraft LIMIT 1").Scan(&ignored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check aircraft table: %w", err)
	}
	return true, nil
}

// csvColumns maps each table column to the header names accepted for it.
// The second and later names cover the OpenSky aircraft-database export.
var csvColumns = map[string][]string{
	"icao":         {"icao", "icao24", "hex"},
	"reg":          {"reg", "registration", "r"},
	"icaotype":     {"icaotype", "typecode", "t"},
	"model":        {"model", "desc"},
	"manufacturer": {"manufacturer", "manufacturername"},
	"ownop":        {"ownop", "operator", "owner"},
	"short_type":   {"short_type", "icaoaircraftclass"},
	"year":         {"year", "built"},
	"mil":          {"mil", "military"},
	"pia":          {"pia"},
	"ladd":         {"ladd"},
}

// LoadFromMultipleCSV loads aircraft data from one or more CSV files into the database.
// Large datasets are commonly split into parts; every part must share the first file's header.
func (r *aircraftRepository) LoadFromMultipleCSV(csvPaths []string, batchSize int) error {
	var headerMap map[string]int
	var expectedFields int
	batch := make([]*models.Aircraft, 0, batchSize)

	for fileIdx, csvPath := range csvPaths {
		if err := func() error {
			file, err := os.Open(csvPath)
			if err != nil {
				return fmt.Errorf("failed to open CSV file %s: %w", csvPath, err)
			}
			defer file.Close()

			reader := csv.NewReader(file)
			reader.LazyQuotes = true    // Handle malformed quotes in CSV
			reader.FieldsPerRecord = -1 // Allow variable number of fields per record

			header, err := reader.Read()
			if err != nil {
				return fmt.Errorf("failed to read CSV header from %s: %w", csvPath, err)
			}

			if fileIdx == 0 {
				expectedFields = len(header)
				headerMap = make(map[string]int)
				for i, h := range header {
					headerMap[strings.ToLower(strings.Trim(strings.TrimSpace(h), "'\""))] = i
				}
				if _, ok := columnIndex(headerMap, "icao"); !ok {
					return fmt.Errorf("CSV file %s has no icao column", csvPath)
				}
			}

			for {
				record, err := reader.Read()
				if err == io.EOF {
					break
				}
				if err != nil {
					return fmt.Errorf("failed to read CSV record from %s: %w", csvPath, err)
				}

				if len(record) != expectedFields {
					continue
				}

				ac := &models.Aircraft{
					ICAO:         models.NormalizeAddress(getField(record, headerMap, "icao")),
					Registration: getField(record, headerMap, "reg"),
					ICAOType:     getField(record, headerMap, "icaotype"),
					Model:        getField(record, headerMap, "model"),
					Manufacturer: getField(record, headerMap, "manufacturer"),
					OwnerOp:      getField(record, headerMap, "ownop"),
					ShortType:    getField(record, headerMap, "short_type"),
					Year:         getField(record, headerMap, "year"),
					Military:     parseFlag(getField(record, headerMap, "mil")),
					PIA:          parseFlag(getField(record, headerMap, "pia")),
					LADD:         parseFlag(getField(record, headerMap, "ladd")),
				}

				// Skip records without an address (invalid data)
				if models.IsAbsent(ac.ICAO) {
					continue
				}

				batch = append(batch, ac)

				if len(batch) >= batchSize {
					if err := r.InsertBatch(batch); err != nil {
						return fmt.Errorf("failed to insert batch: %w", err)
					}
					batch = batch[:0] // Reset slice but keep capacity
				}
			}
			return nil
		}(); err != nil {
			return err
		}
	}

	// Insert remaining records
	if len(batch) > 0 {
		if err := r.InsertBatch(batch); err != nil {
			return fmt.Errorf("failed to insert final batch: %w", err)
		}
	}

	return nil
}

func columnIndex(headerMap map[string]int, column string) (int, bool) {
	for _, name := range csvColumns[column] {
		if idx, ok := headerMap[name]; ok {
			return idx, true
		}
	}
	return 0, false
}

// getField safely retrieves a field from a CSV record by column name
func getField(record []string, headerMap map[string]int, column string) string {
	if idx, ok := columnIndex(headerMap, column); ok && idx < len(record) {
		return strings.Trim(strings.TrimSpace(record[idx]), "'\"")
	}
	return ""
}

func parseFlag(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "t":
		return true
	}
	return false
}
