package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
	config   *ConfigData
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the complete configuration from the YAML file
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	config, err := ParseYAML(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", y.filename, err)
	}
	y.config = config
	return config, nil
}

// ParseYAML converts a YAML document into ConfigData.
func ParseYAML(b []byte) (*ConfigData, error) {
	var yamlConfig ConfigYAML
	if err := yaml.UnmarshalStrict(b, &yamlConfig); err != nil {
		return nil, err
	}
	return yamlConfig.toConfigData(), nil
}

func (y *YAMLProvider) loaded() (*ConfigData, error) {
	if y.config == nil {
		if _, err := y.LoadConfig(); err != nil {
			return nil, err
		}
	}
	return y.config, nil
}

// GetDataset returns the dataset configuration
func (y *YAMLProvider) GetDataset() (*DatasetData, error) {
	c, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &c.Dataset, nil
}

// GetRuns returns the configured runs
func (y *YAMLProvider) GetRuns() ([]RunData, error) {
	c, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return c.Runs, nil
}

// GetOutputConfig returns the output configuration
func (y *YAMLProvider) GetOutputConfig() (*OutputData, error) {
	c, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &c.Output, nil
}

// IsReadOnly returns true since YAML files are read-only through this interface
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

// YAML-specific structs with the kebab-case keys of the configuration file
type ConfigYAML struct {
	Dataset   DatasetYAML   `yaml:"dataset"`
	Runs      []RunYAML     `yaml:"runs"`
	Detection DetectionYAML `yaml:"detection,omitempty"`
	Output    OutputYAML    `yaml:"output,omitempty"`
	Server    ServerYAML    `yaml:"server,omitempty"`
	Logging   LoggingYAML   `yaml:"logging,omitempty"`
}

type DatasetYAML struct {
	Sensor        string   `yaml:"sensor"`
	Path          string   `yaml:"path"`
	Hemisphere    string   `yaml:"hemisphere,omitempty"`
	Frequency     string   `yaml:"frequency,omitempty"`
	Polarization  string   `yaml:"polarization,omitempty"`
	Channel       string   `yaml:"channel,omitempty"`
	Time          string   `yaml:"time,omitempty"`
	Variable      string   `yaml:"variable,omitempty"`
	MetadataFile  string   `yaml:"metadata-file,omitempty"`
	AddYearToPath bool     `yaml:"add-year-to-path,omitempty"`
	AddDayToPath  bool     `yaml:"add-day-to-path,omitempty"`
	MinValue      *float64 `yaml:"min-value,omitempty"`
	MaxValue      *float64 `yaml:"max-value,omitempty"`
	FilterBadData *bool    `yaml:"filter-bad-data,omitempty"`
}

type RunYAML struct {
	Name      string `yaml:"name"`
	Start     string `yaml:"start"`
	End       string `yaml:"end"`
	Increment string `yaml:"increment,omitempty"`
	Scope     string `yaml:"scope,omitempty"`
	Strategy  string `yaml:"strategy,omitempty"`
	Workers   int    `yaml:"workers,omitempty"`
	RowBands  int    `yaml:"row-bands,omitempty"`
	Bias      *int   `yaml:"bias,omitempty"`
}

type DetectionYAML struct {
	SDThreshold            float64    `yaml:"sd-threshold,omitempty"`
	MinSupportingNeighbors *int       `yaml:"min-supporting-neighbors,omitempty"`
	Probe                  *ProbeYAML `yaml:"probe,omitempty"`
}

type ProbeYAML struct {
	Row int `yaml:"row"`
	Col int `yaml:"col"`
}

type OutputYAML struct {
	Directory string `yaml:"directory,omitempty"`
	Binary    struct {
		Enabled   bool   `yaml:"enabled"`
		ByteOrder string `yaml:"byte-order,omitempty"`
	} `yaml:"binary,omitempty"`
	NetCDF struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"netcdf,omitempty"`
	Cache struct {
		Enabled   bool   `yaml:"enabled"`
		Directory string `yaml:"directory,omitempty"`
	} `yaml:"cache,omitempty"`
	Catalog struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path,omitempty"`
	} `yaml:"catalog,omitempty"`
	TimescaleDB struct {
		ConnectionString string `yaml:"connection-string,omitempty"`
	} `yaml:"timescaledb,omitempty"`
}

type ServerYAML struct {
	ListenAddr     string `yaml:"listen-addr,omitempty"`
	Port           int    `yaml:"port,omitempty"`
	Cert           string `yaml:"cert,omitempty"`
	Key            string `yaml:"key,omitempty"`
	HealthInterval string `yaml:"health-interval,omitempty"`
}

type LoggingYAML struct {
	Debug      bool   `yaml:"debug,omitempty"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max-size-mb,omitempty"`
	MaxBackups int    `yaml:"max-backups,omitempty"`
	MaxAgeDays int    `yaml:"max-age-days,omitempty"`
}

func (y ConfigYAML) toConfigData() *ConfigData {
	d := y.Dataset
	config := &ConfigData{
		Dataset: DatasetData{
			Sensor:        d.Sensor,
			Path:          d.Path,
			Hemisphere:    d.Hemisphere,
			Frequency:     d.Frequency,
			Polarization:  d.Polarization,
			Channel:       d.Channel,
			Time:          d.Time,
			Variable:      d.Variable,
			MetadataFile:  d.MetadataFile,
			AddYearToPath: d.AddYearToPath,
			AddDayToPath:  d.AddDayToPath,
			MinValue:      d.MinValue,
			MaxValue:      d.MaxValue,
			FilterBadData: d.FilterBadData,
		},
		Runs: make([]RunData, len(y.Runs)),
		Detection: DetectionData{
			SDThreshold:            y.Detection.SDThreshold,
			MinSupportingNeighbors: y.Detection.MinSupportingNeighbors,
		},
		Output: OutputData{
			Directory:   y.Output.Directory,
			Binary:      BinaryData{Enabled: y.Output.Binary.Enabled, ByteOrder: y.Output.Binary.ByteOrder},
			NetCDF:      NetCDFData{Enabled: y.Output.NetCDF.Enabled},
			Cache:       CacheData{Enabled: y.Output.Cache.Enabled, Directory: y.Output.Cache.Directory},
			Catalog:     CatalogData{Enabled: y.Output.Catalog.Enabled, Path: y.Output.Catalog.Path},
			TimescaleDB: TimescaleDBData{ConnectionString: y.Output.TimescaleDB.ConnectionString},
		},
		Server: ServerData{
			ListenAddr:     y.Server.ListenAddr,
			Port:           y.Server.Port,
			Cert:           y.Server.Cert,
			Key:            y.Server.Key,
			HealthInterval: y.Server.HealthInterval,
		},
		Logging: LoggingData{
			Debug:      y.Logging.Debug,
			File:       y.Logging.File,
			MaxSizeMB:  y.Logging.MaxSizeMB,
			MaxBackups: y.Logging.MaxBackups,
			MaxAgeDays: y.Logging.MaxAgeDays,
		},
	}

	if y.Detection.Probe != nil {
		config.Detection.Probe = &ProbeData{Row: y.Detection.Probe.Row, Col: y.Detection.Probe.Col}
	}

	for i, run := range y.Runs {
		config.Runs[i] = RunData{
			Name:      run.Name,
			Start:     run.Start,
			End:       run.End,
			Increment: run.Increment,
			Scope:     run.Scope,
			Strategy:  run.Strategy,
			Workers:   run.Workers,
			RowBands:  run.RowBands,
			Bias:      run.Bias,
		}
	}
	return config
}
