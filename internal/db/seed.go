package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"
)

type seedSector struct {
	Name        string
	DisplayName string
}

type seedSubject struct {
	Label string
	Value string
}

var defaultSectors = []seedSector{
	{Name: "KLASA_9", DisplayName: "Klasa 9"},
	{Name: "KLASA_12", DisplayName: "Klasa 12"},
}

var subjectsKlasa9 = []seedSubject{
	{Label: "Gjuhë Shqipe", Value: "gjuhe_shqipe"},
	{Label: "Letërsi", Value: "leteri"},
	{Label: "Gjuhë Angleze", Value: "gjuhe_angleze"},
	{Label: "Gjuhë e dytë e huaj (zakonisht Gjermanisht)", Value: "gjuhe_e_dyte_e_huaj"},
	{Label: "Matematikë", Value: "matematike"},
	{Label: "Fizikë", Value: "fizike"},
	{Label: "Kimi", Value: "kimi"},
	{Label: "Biologji", Value: "biologji"},
	{Label: "Histori", Value: "histori"},
	{Label: "Gjeografi", Value: "gjeografi"},
	{Label: "Edukatë Qytetare", Value: "edukate_qytetare"},
	{Label: "Edukatë Muzikore", Value: "edukate_muzikore"},
	{Label: "Edukatë Figurative", Value: "edukate_figurative"},
	{Label: "Edukatë Fizike", Value: "edukate_fizike"},
	{Label: "Teknologji / Teknikë", Value: "teknologji_tekinke"},
}

var subjectsKlasa12 = []seedSubject{
	{Label: "Gjuhë Shqipe", Value: "gjuhe_shqipe"},
	{Label: "Matematikë", Value: "matematike"},
	{Label: "Anglisht", Value: "anglisht"},
	{Label: "Fizikë", Value: "fizike"},
	{Label: "Kimi", Value: "kimi"},
	{Label: "Biologji", Value: "biologji"},
	{Label: "Histori", Value: "histori"},
	{Label: "Gjeografi", Value: "gjeografi"},
	{Label: "Ekonomi", Value: "ekonomi"},
	{Label: "Informatikë", Value: "informatike"},
	{Label: "Lëndë profesionale", Value: "lende_profesionale"},
}

// seedCatalog merges both subject lists by value, keeping first-seen order
// and collecting the sector names each subject belongs to.
func seedCatalog() ([]seedSubject, map[string][]string) {
	order := make([]seedSubject, 0, len(subjectsKlasa9)+len(subjectsKlasa12))
	sectors := make(map[string][]string)
	add := func(list []seedSubject, sector string) {
		for _, s := range list {
			if _, ok := sectors[s.Value]; !ok {
				order = append(order, s)
			}
			sectors[s.Value] = append(sectors[s.Value], sector)
		}
	}
	add(subjectsKlasa9, "KLASA_9")
	add(subjectsKlasa12, "KLASA_12")
	return order, sectors
}

// Seed inserts the default sectors and subject catalogue. Each table is
// skipped when it already holds rows.
func Seed(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sectorCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sectors`).Scan(&sectorCount); err != nil {
		return fmt.Errorf("count sectors: %w", err)
	}
	if sectorCount == 0 {
		for _, s := range defaultSectors {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sectors (id, name, display_name, is_active)
				VALUES ($1, $2, $3, TRUE)
			`, uuid.New(), s.Name, s.DisplayName); err != nil {
				return fmt.Errorf("insert sector %s: %w", s.Name, err)
			}
		}
		log.Printf("seeded %d sectors", len(defaultSectors))
	}

	var subjectCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM subjects`).Scan(&subjectCount); err != nil {
		return fmt.Errorf("count subjects: %w", err)
	}
	if subjectCount == 0 {
		sectorIDs := make(map[string]uuid.UUID, len(defaultSectors))
		for _, s := range defaultSectors {
			var id uuid.UUID
			err := tx.QueryRowContext(ctx, `SELECT id FROM sectors WHERE name = $1`, s.Name).Scan(&id)
			if err != nil {
				return fmt.Errorf("load sector %s: %w", s.Name, err)
			}
			sectorIDs[s.Name] = id
		}

		subjects, membership := seedCatalog()
		for _, s := range subjects {
			subjectID := uuid.New()
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO subjects (id, label, value, is_active)
				VALUES ($1, $2, $3, TRUE)
			`, subjectID, s.Label, s.Value); err != nil {
				return fmt.Errorf("insert subject %s: %w", s.Value, err)
			}
			for _, sectorName := range membership[s.Value] {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO subject_sectors (subject_id, sector_id)
					VALUES ($1, $2)
					ON CONFLICT DO NOTHING
				`, subjectID, sectorIDs[sectorName]); err != nil {
					return fmt.Errorf("link subject %s: %w", s.Value, err)
				}
			}
		}
		log.Printf("seeded %d subjects", len(subjects))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed tx: %w", err)
	}
	return nil
}
