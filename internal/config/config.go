package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"fleetsim/internal/sim"
)

// Config models fleetsim.yml.
type Config struct {
	Scenario struct {
		Name string `yaml:"name"`
		Seed int64  `yaml:"seed"`
	} `yaml:"scenario"`
	Map struct {
		Width  float64 `yaml:"width"`
		Height float64 `yaml:"height"`
	} `yaml:"map"`
	Locations struct {
		Depots    int `yaml:"depots"`
		Customers int `yaml:"customers"`
		Others    int `yaml:"others"`
	} `yaml:"locations"`
	Trucks struct {
		Count         int `yaml:"count"`
		CapacityMinKg int `yaml:"capacity_min_kg"`
		CapacityMaxKg int `yaml:"capacity_max_kg"`
	} `yaml:"trucks"`
	Resource struct {
		Name            string `yaml:"name"`
		WeightPerUnitKg int    `yaml:"weight_per_unit_kg"`
	} `yaml:"resource"`
	Depots struct {
		StockMin           int `yaml:"stock_min"`
		StockMax           int `yaml:"stock_max"`
		ProductionRate     int `yaml:"production_rate"`
		ProductionCapacity int `yaml:"production_capacity"`
	} `yaml:"depots"`
	Demand struct {
		Chance      float64 `yaml:"chance"`
		QuantityMin int     `yaml:"quantity_min"`
		QuantityMax int     `yaml:"quantity_max"`
	} `yaml:"demand"`
	Routes struct {
		Chance   float64 `yaml:"chance"`
		MaxStops int     `yaml:"max_stops"`
	} `yaml:"routes"`
}

// Validate ensures the config meets world-construction preconditions.
func (c *Config) Validate() error {
	if c.Scenario.Name == "" {
		return fmt.Errorf("config.scenario.name is required")
	}
	if c.Locations.Depots < 1 {
		return fmt.Errorf("config.locations.depots must be at least 1; trucks need a home depot")
	}
	if c.Locations.Customers < 0 || c.Locations.Others < 0 {
		return fmt.Errorf("config.locations counts must not be negative")
	}
	if c.Trucks.Count < 0 {
		return fmt.Errorf("config.trucks.count must not be negative")
	}
	if c.Map.Width <= 0 || c.Map.Height <= 0 {
		return fmt.Errorf("config.map dimensions must be positive")
	}
	if c.Trucks.CapacityMinKg <= 0 {
		return fmt.Errorf("config.trucks.capacity_min_kg must be positive")
	}
	if c.Trucks.CapacityMaxKg < c.Trucks.CapacityMinKg {
		return fmt.Errorf("config.trucks.capacity_max_kg must be >= capacity_min_kg")
	}
	if c.Resource.Name == "" {
		return fmt.Errorf("config.resource.name is required")
	}
	if c.Resource.WeightPerUnitKg <= 0 {
		return fmt.Errorf("config.resource.weight_per_unit_kg must be positive")
	}
	if c.Depots.StockMin < 0 || c.Depots.StockMax < c.Depots.StockMin {
		return fmt.Errorf("config.depots stock range is invalid")
	}
	if c.Depots.ProductionRate < 0 || c.Depots.ProductionCapacity < 0 {
		return fmt.Errorf("config.depots production values must not be negative")
	}
	if c.Demand.Chance < 0 || c.Demand.Chance > 1 {
		return fmt.Errorf("config.demand.chance must be within [0,1]")
	}
	if c.Demand.QuantityMin < 0 || c.Demand.QuantityMax < c.Demand.QuantityMin {
		return fmt.Errorf("config.demand quantity range is invalid")
	}
	if c.Routes.Chance < 0 || c.Routes.Chance > 1 {
		return fmt.Errorf("config.routes.chance must be within [0,1]")
	}
	if c.Routes.MaxStops < 1 {
		return fmt.Errorf("config.routes.max_stops must be at least 1")
	}
	return nil
}

// Params converts the config into world-construction parameters.
func (c *Config) Params() sim.Params {
	return sim.Params{
		NumTrucks:          c.Trucks.Count,
		NumDepots:          c.Locations.Depots,
		NumCustomers:       c.Locations.Customers,
		NumOthers:          c.Locations.Others,
		MapWidth:           c.Map.Width,
		MapHeight:          c.Map.Height,
		Seed:               c.Scenario.Seed,
		DefaultResource:    c.Resource.Name,
		WeightPerUnitKg:    c.Resource.WeightPerUnitKg,
		CapacityMinKg:      c.Trucks.CapacityMinKg,
		CapacityMaxKg:      c.Trucks.CapacityMaxKg,
		DepotStockMin:      c.Depots.StockMin,
		DepotStockMax:      c.Depots.StockMax,
		ProductionRate:     c.Depots.ProductionRate,
		ProductionCapacity: c.Depots.ProductionCapacity,
		DemandChance:       c.Demand.Chance,
		DemandMin:          c.Demand.QuantityMin,
		DemandMax:          c.Demand.QuantityMax,
		RouteChance:        c.Routes.Chance,
		RouteStopsMax:      c.Routes.MaxStops,
	}
}

// ToYAML serializes the config.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fleetsim.yml")
}

// GenerateDefault returns default config YAML for a named scenario.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault resolves the active scenario config: the workspace file
// when present, the baseline otherwise.
func LoadOrDefault(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default("baseline")
	}
	return cfg, nil
}

// Default returns the baseline scenario config.
func Default(name string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault(name)), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `scenario:
  name: %s
  seed: 42

map:
  width: 50
  height: 50

locations:
  depots: 2
  customers: 20
  others: 0

trucks:
  count: 10
  capacity_min_kg: 15000
  capacity_max_kg: 30000

resource:
  name: widgets
  weight_per_unit_kg: 50

depots:
  stock_min: 500
  stock_max: 2000
  production_rate: 5
  production_capacity: 5000

demand:
  chance: 0.2
  quantity_min: 10
  quantity_max: 100

routes:
  chance: 0.3
  max_stops: 3
`
