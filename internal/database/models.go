package database

import (
	"time"

	"github.com/chrissnell/climatology/internal/grid"
)

// AnomalyRecord is one anomalous cell stored in TimescaleDB. The anomalies
// table is a hypertable partitioned on date.
type AnomalyRecord struct {
	Date              time.Time `gorm:"column:date;not null;primaryKey"`
	Baseline          string    `gorm:"column:baseline;not null;primaryKey"`
	Row               int       `gorm:"column:row;not null;primaryKey"`
	Col               int       `gorm:"column:col;not null;primaryKey"`
	RunID             string    `gorm:"column:run_id;not null"`
	Sensor            string    `gorm:"column:sensor;not null;index"`
	Value             float64   `gorm:"column:value"`
	Mean              float64   `gorm:"column:mean"`
	StandardDeviation float64   `gorm:"column:sd"`
	ZScore            float64   `gorm:"column:z_score"`
	Probability       float64   `gorm:"column:probability"`
	Neighbors         int       `gorm:"column:neighbors"`
}

// TableName specifies the table name for AnomalyRecord
func (AnomalyRecord) TableName() string {
	return "anomalies"
}

// NewAnomalyRecord converts a detected anomaly for storage.
func NewAnomalyRecord(date time.Time, baseline, runID, sensor string, an grid.Anomaly) AnomalyRecord {
	return AnomalyRecord{
		Date:              date,
		Baseline:          baseline,
		Row:               an.Row,
		Col:               an.Col,
		RunID:             runID,
		Sensor:            sensor,
		Value:             an.Value,
		Mean:              an.Mean,
		StandardDeviation: an.StandardDeviation,
		ZScore:            an.ZScore,
		Probability:       an.Probability,
		Neighbors:         an.Neighbors,
	}
}

// ProductRecord describes one baseline grid produced by a run.
type ProductRecord struct {
	Name       string    `gorm:"column:name;primaryKey"`
	RunID      string    `gorm:"column:run_id;not null"`
	Sensor     string    `gorm:"column:sensor;not null"`
	Statistic  string    `gorm:"column:statistic;not null"`
	Increment  string    `gorm:"column:increment;not null"`
	StartDate  time.Time `gorm:"column:start_date"`
	EndDate    time.Time `gorm:"column:end_date"`
	Rows       int       `gorm:"column:rows"`
	Cols       int       `gorm:"column:cols"`
	ValidCells int       `gorm:"column:valid_cells"`
	CreatedAt  time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for ProductRecord
func (ProductRecord) TableName() string {
	return "products"
}
