package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chrissnell/climatology/internal/climatology"
	"github.com/chrissnell/climatology/internal/datasource"
	"github.com/chrissnell/climatology/internal/timespan"
)

// ErrInvalidConfig indicates a configuration that cannot be run.
var ErrInvalidConfig = errors.New("config: invalid configuration")

const (
	DefaultSDThreshold    = 2.0
	DefaultPort           = 8080
	DefaultHealthInterval = time.Minute
)

// Load reads the configuration from p, fills in defaults and validates it.
func Load(p ConfigProvider) (*ConfigData, error) {
	c, err := p.LoadConfig()
	if err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyDefaults fills every unset option that has a default.
func (c *ConfigData) ApplyDefaults() {
	d := &c.Dataset
	d.Sensor = strings.ToLower(d.Sensor)
	if lo, hi, ok := datasource.DefaultRange(d.Sensor); ok {
		if d.MinValue == nil {
			d.MinValue = &lo
		}
		if d.MaxValue == nil {
			d.MaxValue = &hi
		}
	}
	if d.FilterBadData == nil {
		filter := d.MinValue != nil && d.MaxValue != nil
		d.FilterBadData = &filter
	}

	if c.Detection.SDThreshold == 0 {
		c.Detection.SDThreshold = DefaultSDThreshold
	}
	if c.Detection.MinSupportingNeighbors == nil {
		one := 1
		c.Detection.MinSupportingNeighbors = &one
	}

	for i := range c.Runs {
		r := &c.Runs[i]
		if r.Increment == "" {
			r.Increment = timespan.None.String()
		}
		if r.Scope == "" {
			r.Scope = string(climatology.ScopeRun)
		}
		if r.Strategy == "" {
			r.Strategy = string(climatology.StrategyTwoPass)
		}
		if r.Workers == 0 {
			r.Workers = 1
		}
		if r.RowBands == 0 {
			r.RowBands = 1
		}
		if r.Bias == nil {
			sample := 1
			r.Bias = &sample
		}
	}

	if c.Output.Directory == "" {
		c.Output.Directory = "."
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.HealthInterval == "" {
		c.Server.HealthInterval = DefaultHealthInterval.String()
	}
}

// Validate checks the configuration, including every run.
func (c *ConfigData) Validate() error {
	switch c.Dataset.Sensor {
	case datasource.SensorSSMI, datasource.SensorAVHRR, datasource.SensorSeaIce:
	default:
		return fmt.Errorf("dataset sensor %q: %w", c.Dataset.Sensor, ErrInvalidConfig)
	}
	if c.Dataset.Path == "" {
		return fmt.Errorf("dataset path is required: %w", ErrInvalidConfig)
	}
	if len(c.Runs) == 0 {
		return fmt.Errorf("no runs configured: %w", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Runs))
	products := make(map[string]string)
	for _, r := range c.Runs {
		if r.Name == "" {
			return fmt.Errorf("every run needs a name: %w", ErrInvalidConfig)
		}
		if seen[r.Name] {
			return fmt.Errorf("run %q is defined twice: %w", r.Name, ErrInvalidConfig)
		}
		seen[r.Name] = true

		rc, err := c.RunConfig(r.Name)
		if err != nil {
			return err
		}
		if err := rc.Validate(); err != nil {
			return fmt.Errorf("run %q: %w: %w", r.Name, ErrInvalidConfig, err)
		}

		names, err := rc.ProductNames()
		if err != nil {
			return fmt.Errorf("run %q: %w: %w", r.Name, ErrInvalidConfig, err)
		}
		for _, name := range names {
			if other, ok := products[name]; ok {
				return fmt.Errorf("runs %q and %q both write %s: %w", other, r.Name, name, ErrInvalidConfig)
			}
			products[name] = r.Name
		}
	}

	switch strings.ToLower(c.Output.Binary.ByteOrder) {
	case "", "little", "big":
	default:
		return fmt.Errorf("binary byte order %q: %w", c.Output.Binary.ByteOrder, ErrInvalidConfig)
	}
	if _, err := c.Server.Health(); err != nil {
		return err
	}
	return nil
}

// Health returns the parsed health check interval.
func (s ServerData) Health() (time.Duration, error) {
	if s.HealthInterval == "" {
		return DefaultHealthInterval, nil
	}
	d, err := time.ParseDuration(s.HealthInterval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("health interval %q: %w", s.HealthInterval, ErrInvalidConfig)
	}
	return d, nil
}

// SensorParams returns the data source parameters of the dataset.
func (d DatasetData) SensorParams() datasource.Params {
	return datasource.Params{
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
	}
}

// RunConfig builds the engine configuration of the run called name.
func (c *ConfigData) RunConfig(name string) (climatology.RunConfig, error) {
	r, ok := c.Run(name)
	if !ok {
		return climatology.RunConfig{}, fmt.Errorf("no run named %q: %w", name, ErrInvalidConfig)
	}

	start, err := timespan.ParseDate(r.Start)
	if err != nil {
		return climatology.RunConfig{}, fmt.Errorf("run %q start %q: %w", name, r.Start, ErrInvalidConfig)
	}
	end, err := timespan.ParseDate(r.End)
	if err != nil {
		return climatology.RunConfig{}, fmt.Errorf("run %q end %q: %w", name, r.End, ErrInvalidConfig)
	}
	inc, err := timespan.ParseIncrement(r.Increment)
	if err != nil {
		return climatology.RunConfig{}, fmt.Errorf("run %q: %w: %w", name, ErrInvalidConfig, err)
	}

	rc := climatology.RunConfig{
		Name:        name,
		Sensor:      c.Dataset.SensorParams(),
		Start:       start,
		End:         end,
		Increment:   inc,
		SDThreshold: c.Detection.SDThreshold,
		Workers:     r.Workers,
		RowBands:    r.RowBands,
		Strategy:    climatology.Strategy(r.Strategy),
		Scope:       climatology.Scope(r.Scope),
	}
	if c.Dataset.FilterBadData != nil && *c.Dataset.FilterBadData {
		rc.FilterBadData = true
		if c.Dataset.MinValue == nil || c.Dataset.MaxValue == nil {
			return climatology.RunConfig{}, fmt.Errorf("filtering bad data needs min-value and max-value: %w", ErrInvalidConfig)
		}
		rc.MinValue, rc.MaxValue = *c.Dataset.MinValue, *c.Dataset.MaxValue
	}
	if c.Detection.MinSupportingNeighbors != nil {
		rc.MinSupportingNeighbors = *c.Detection.MinSupportingNeighbors
	}
	if r.Bias != nil {
		rc.Bias = *r.Bias
	}
	if p := c.Detection.Probe; p != nil {
		rc.Probe = &climatology.Cell{Row: p.Row, Col: p.Col}
	}
	return rc, nil
}

// RunConfigs builds the engine configuration of every run, in file order.
func (c *ConfigData) RunConfigs() ([]climatology.RunConfig, error) {
	out := make([]climatology.RunConfig, 0, len(c.Runs))
	for _, r := range c.Runs {
		rc, err := c.RunConfig(r.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}
