package config

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetDataset() (*DatasetData, error)
	GetRuns() ([]RunData, error)
	GetOutputConfig() (*OutputData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Dataset   DatasetData   `json:"dataset"`
	Runs      []RunData     `json:"runs"`
	Detection DetectionData `json:"detection,omitempty"`
	Output    OutputData    `json:"output,omitempty"`
	Server    ServerData    `json:"server,omitempty"`
	Logging   LoggingData   `json:"logging,omitempty"`
}

// DatasetData selects the sensor whose daily grids are read
type DatasetData struct {
	Sensor        string `json:"sensor"`
	Path          string `json:"path"`
	Hemisphere    string `json:"hemisphere,omitempty"`
	Frequency     string `json:"frequency,omitempty"`
	Polarization  string `json:"polarization,omitempty"`
	Channel       string `json:"channel,omitempty"`
	Time          string `json:"time,omitempty"`
	Variable      string `json:"variable,omitempty"`
	MetadataFile  string `json:"metadata_file,omitempty"`
	AddYearToPath bool   `json:"add_year_to_path,omitempty"`
	AddDayToPath  bool   `json:"add_day_to_path,omitempty"`

	// MinValue and MaxValue default to the sensor's documented range.
	MinValue      *float64 `json:"min_value,omitempty"`
	MaxValue      *float64 `json:"max_value,omitempty"`
	FilterBadData *bool    `json:"filter_bad_data,omitempty"`
}

// RunData describes one baseline computation over the dataset
type RunData struct {
	Name      string `json:"name"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Increment string `json:"increment,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Workers   int    `json:"workers,omitempty"`
	RowBands  int    `json:"row_bands,omitempty"`
	Bias      *int   `json:"bias,omitempty"`
}

// DetectionData configures the anomaly detector
type DetectionData struct {
	SDThreshold            float64    `json:"sd_threshold,omitempty"`
	MinSupportingNeighbors *int       `json:"min_supporting_neighbors,omitempty"`
	Probe                  *ProbeData `json:"probe,omitempty"`
}

// ProbeData is a grid cell whose statistics are logged after every run
type ProbeData struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// OutputData holds the configuration of the output sinks
type OutputData struct {
	Directory   string          `json:"directory,omitempty"`
	Binary      BinaryData      `json:"binary,omitempty"`
	NetCDF      NetCDFData      `json:"netcdf,omitempty"`
	Cache       CacheData       `json:"cache,omitempty"`
	Catalog     CatalogData     `json:"catalog,omitempty"`
	TimescaleDB TimescaleDBData `json:"timescaledb,omitempty"`
}

type BinaryData struct {
	Enabled   bool   `json:"enabled"`
	ByteOrder string `json:"byte_order,omitempty"`
}

type NetCDFData struct {
	Enabled bool `json:"enabled"`
}

type CacheData struct {
	Enabled   bool   `json:"enabled"`
	Directory string `json:"directory,omitempty"`
}

type CatalogData struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type TimescaleDBData struct {
	ConnectionString string `json:"connection_string,omitempty"`
}

// ServerData configures the results API
type ServerData struct {
	ListenAddr     string `json:"listen_addr,omitempty"`
	Port           int    `json:"port,omitempty"`
	Cert           string `json:"cert,omitempty"`
	Key            string `json:"key,omitempty"`
	HealthInterval string `json:"health_interval,omitempty"`
}

// LoggingData configures the optional rotating log file
type LoggingData struct {
	Debug      bool   `json:"debug,omitempty"`
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// Run returns the run named name.
func (c *ConfigData) Run(name string) (RunData, bool) {
	for _, r := range c.Runs {
		if r.Name == name {
			return r, true
		}
	}
	return RunData{}, false
}
