package config

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/chrissnell/climatology/pkg/migrate"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DefaultProfile is the profile used when none is named.
const DefaultProfile = "default"

// ErrProfileNotFound indicates a profile with no stored dataset.
var ErrProfileNotFound = errors.New("config: profile not found")

// SQLiteProvider implements ConfigProvider for a SQLite database holding one
// or more named configuration profiles.
type SQLiteProvider struct {
	db      *sql.DB
	dbPath  string
	profile string
}

// NewSQLiteProvider opens dbPath, applying any pending schema migrations, and
// reads the named profile. logger may be nil.
func NewSQLiteProvider(dbPath, profile string, logger *zap.SugaredLogger) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	m, err := migrate.New(db, migrationFS, "migrations", "config_migrations", logger)
	if err == nil {
		_, err = m.Up(context.Background())
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate configuration database: %w", err)
	}

	if profile == "" {
		profile = DefaultProfile
	}
	return &SQLiteProvider{
		db:      db,
		dbPath:  dbPath,
		profile: profile,
	}, nil
}

// LoadConfig loads the complete profile from the database
func (s *SQLiteProvider) LoadConfig() (*ConfigData, error) {
	config := &ConfigData{}

	dataset, err := s.GetDataset()
	if err != nil {
		return nil, err
	}
	config.Dataset = *dataset

	config.Runs, err = s.GetRuns()
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}

	sections := map[string]interface{}{
		"detection": &config.Detection,
		"output":    &config.Output,
		"server":    &config.Server,
		"logging":   &config.Logging,
	}
	for name, v := range sections {
		if err := s.loadSection(name, v); err != nil {
			return nil, err
		}
	}
	return config, nil
}

// GetDataset returns the dataset of the profile
func (s *SQLiteProvider) GetDataset() (*DatasetData, error) {
	query := `
		SELECT sensor, path, hemisphere, frequency, polarization, channel, time, variable,
		       metadata_file, add_year_to_path, add_day_to_path, min_value, max_value, filter_bad_data
		FROM datasets
		WHERE profile = ?
	`

	var d DatasetData
	var hemisphere, frequency, polarization, channel, tm, variable, metadataFile sql.NullString
	var minValue, maxValue sql.NullFloat64
	var filter sql.NullBool

	err := s.db.QueryRow(query, s.profile).Scan(
		&d.Sensor, &d.Path, &hemisphere, &frequency, &polarization, &channel, &tm, &variable,
		&metadataFile, &d.AddYearToPath, &d.AddDayToPath, &minValue, &maxValue, &filter,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", s.profile, ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset: %w", err)
	}

	d.Hemisphere = hemisphere.String
	d.Frequency = frequency.String
	d.Polarization = polarization.String
	d.Channel = channel.String
	d.Time = tm.String
	d.Variable = variable.String
	d.MetadataFile = metadataFile.String
	if minValue.Valid {
		d.MinValue = &minValue.Float64
	}
	if maxValue.Valid {
		d.MaxValue = &maxValue.Float64
	}
	if filter.Valid {
		d.FilterBadData = &filter.Bool
	}
	return &d, nil
}

// GetRuns returns the runs of the profile in the order they were saved
func (s *SQLiteProvider) GetRuns() ([]RunData, error) {
	query := `
		SELECT name, start_date, end_date, increment, scope, strategy, workers, row_bands, bias
		FROM run_profiles
		WHERE profile = ?
		ORDER BY position
	`

	rows, err := s.db.Query(query, s.profile)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunData
	for rows.Next() {
		var r RunData
		var increment, scope, strategy sql.NullString
		var workers, rowBands, bias sql.NullInt64

		err := rows.Scan(&r.Name, &r.Start, &r.End, &increment, &scope, &strategy, &workers, &rowBands, &bias)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}

		r.Increment = increment.String
		r.Scope = scope.String
		r.Strategy = strategy.String
		r.Workers = int(workers.Int64)
		r.RowBands = int(rowBands.Int64)
		if bias.Valid {
			b := int(bias.Int64)
			r.Bias = &b
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetOutputConfig returns the output section of the profile
func (s *SQLiteProvider) GetOutputConfig() (*OutputData, error) {
	var out OutputData
	if err := s.loadSection("output", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// loadSection decodes a JSON section into v. A missing section leaves v untouched.
func (s *SQLiteProvider) loadSection(name string, v interface{}) error {
	var body string
	err := s.db.QueryRow(`SELECT body FROM config_sections WHERE profile = ? AND section = ?`, s.profile, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query %s section: %w", name, err)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("failed to decode %s section: %w", name, err)
	}
	return nil
}

// IsReadOnly returns false since profiles can be saved
func (s *SQLiteProvider) IsReadOnly() bool {
	return false
}

// Close closes the database connection
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveConfig replaces the profile with configData
func (s *SQLiteProvider) SaveConfig(configData *ConfigData) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO profiles (name) VALUES (?)
		ON CONFLICT(name) DO UPDATE SET updated_at = CURRENT_TIMESTAMP`, s.profile)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	if err := s.clearExistingConfig(tx); err != nil {
		return fmt.Errorf("failed to clear existing profile: %w", err)
	}
	if err := s.insertDataset(tx, &configData.Dataset); err != nil {
		return fmt.Errorf("failed to insert dataset: %w", err)
	}
	for i, run := range configData.Runs {
		if err := s.insertRun(tx, i, &run); err != nil {
			return fmt.Errorf("failed to insert run %s: %w", run.Name, err)
		}
	}

	sections := map[string]interface{}{
		"detection": configData.Detection,
		"output":    configData.Output,
		"server":    configData.Server,
		"logging":   configData.Logging,
	}
	for name, v := range sections {
		body, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s section: %w", name, err)
		}
		_, err = tx.Exec(`INSERT INTO config_sections (profile, section, body) VALUES (?, ?, ?)`, s.profile, name, string(body))
		if err != nil {
			return fmt.Errorf("failed to insert %s section: %w", name, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteProvider) clearExistingConfig(tx *sql.Tx) error {
	queries := []string{
		"DELETE FROM datasets WHERE profile = ?",
		"DELETE FROM run_profiles WHERE profile = ?",
		"DELETE FROM config_sections WHERE profile = ?",
	}
	for _, query := range queries {
		if _, err := tx.Exec(query, s.profile); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteProvider) insertDataset(tx *sql.Tx, d *DatasetData) error {
	query := `
		INSERT INTO datasets (
			profile, sensor, path, hemisphere, frequency, polarization, channel, time, variable,
			metadata_file, add_year_to_path, add_day_to_path, min_value, max_value, filter_bad_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var minValue, maxValue sql.NullFloat64
	if d.MinValue != nil {
		minValue = sql.NullFloat64{Float64: *d.MinValue, Valid: true}
	}
	if d.MaxValue != nil {
		maxValue = sql.NullFloat64{Float64: *d.MaxValue, Valid: true}
	}
	var filter sql.NullBool
	if d.FilterBadData != nil {
		filter = sql.NullBool{Bool: *d.FilterBadData, Valid: true}
	}

	_, err := tx.Exec(query,
		s.profile, d.Sensor, d.Path, nullString(d.Hemisphere), nullString(d.Frequency),
		nullString(d.Polarization), nullString(d.Channel), nullString(d.Time), nullString(d.Variable),
		nullString(d.MetadataFile), d.AddYearToPath, d.AddDayToPath, minValue, maxValue, filter,
	)
	return err
}

func (s *SQLiteProvider) insertRun(tx *sql.Tx, position int, r *RunData) error {
	query := `
		INSERT INTO run_profiles (
			profile, name, position, start_date, end_date, increment, scope, strategy, workers, row_bands, bias
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var bias sql.NullInt64
	if r.Bias != nil {
		bias = sql.NullInt64{Int64: int64(*r.Bias), Valid: true}
	}
	_, err := tx.Exec(query,
		s.profile, r.Name, position, r.Start, r.End, nullString(r.Increment), nullString(r.Scope),
		nullString(r.Strategy), r.Workers, r.RowBands, bias,
	)
	return err
}

// Helper functions for handling nullable fields
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
