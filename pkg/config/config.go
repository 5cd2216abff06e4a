// Package config loads the server configuration from YAML, validates it and
// converts decimal price strings into ticks.
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roshanshah11/vertexladder/pkg/book"
	"github.com/roshanshah11/vertexladder/pkg/risk"
)

// Config is the full server configuration, read once at startup. There is
// no hot reload.
type Config struct {
	Symbol string `yaml:"symbol"`

	Queue struct {
		Shards   int `yaml:"shards"`
		Capacity int `yaml:"capacity"`
	} `yaml:"queue"`

	Pool struct {
		OrderCapacity int `yaml:"orderCapacity"`
	} `yaml:"pool"`

	Depth struct {
		PublishLevels int `yaml:"publishLevels"`
	} `yaml:"depth"`

	Risk struct {
		Bypass          bool    `yaml:"bypass"`
		MaxOrderSize    uint64  `yaml:"maxOrderSize"`
		MinPrice        string  `yaml:"minPrice"`
		MaxPrice        string  `yaml:"maxPrice"`
		MaxPosition     int64   `yaml:"maxPosition"`
		MinPosition     int64   `yaml:"minPosition"`
		MaxNotional     string  `yaml:"maxNotional"`
		OrdersPerSecond float64 `yaml:"ordersPerSecond"`
	} `yaml:"risk"`

	Log struct {
		Level   string `yaml:"level"`
		File    string `yaml:"file"`
		MaxSize int    `yaml:"maxSizeMB"`
		Console bool   `yaml:"console"`
	} `yaml:"log"`

	Metrics struct {
		Listen    string `yaml:"listen"`
		Namespace string `yaml:"namespace"`
	} `yaml:"metrics"`

	WebSocket struct {
		Listen string `yaml:"listen"`
	} `yaml:"websocket"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subjectPrefix"`
	} `yaml:"nats"`
}

// Default returns a runnable configuration.
func Default() Config {
	var c Config
	c.Symbol = "AAPL"
	c.Queue.Shards = 0 // engine picks per host
	c.Queue.Capacity = 1 << 17
	c.Pool.OrderCapacity = 1 << 14
	c.Depth.PublishLevels = 5
	c.Risk.MaxOrderSize = 10_000
	c.Risk.MinPrice = "0.01"
	c.Risk.MaxPrice = "1000000"
	c.Risk.MaxPosition = 100_000
	c.Risk.MinPosition = -100_000
	c.Risk.OrdersPerSecond = 0
	c.Log.Level = "info"
	c.Metrics.Listen = ":9100"
	c.Metrics.Namespace = "vertexladder"
	c.WebSocket.Listen = ":8081"
	return c
}

// Load reads and validates a YAML config file. Missing keys keep their
// defaults.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	if errs := c.Validate(); len(errs) > 0 {
		return c, fmt.Errorf("invalid config: %v", errs)
	}
	return c, nil
}

// Validate returns every problem found rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error
	if c.Symbol == "" {
		errs = append(errs, fmt.Errorf("symbol must be set"))
	}
	if c.Queue.Capacity < 0 || c.Pool.OrderCapacity < 0 {
		errs = append(errs, fmt.Errorf("queue and pool capacities must be non-negative"))
	}
	if _, err := book.PriceFromString(c.Risk.MinPrice); err != nil {
		errs = append(errs, fmt.Errorf("risk.minPrice: %w", err))
	}
	if _, err := book.PriceFromString(c.Risk.MaxPrice); err != nil {
		errs = append(errs, fmt.Errorf("risk.maxPrice: %w", err))
	}
	if c.Risk.MaxNotional != "" {
		if _, err := decimal.NewFromString(c.Risk.MaxNotional); err != nil {
			errs = append(errs, fmt.Errorf("risk.maxNotional: %w", err))
		}
	}
	if c.Risk.MinPosition > c.Risk.MaxPosition {
		errs = append(errs, fmt.Errorf("risk.minPosition exceeds risk.maxPosition"))
	}
	return errs
}

// RiskLimits converts the risk section into engine limits.
func (c *Config) RiskLimits() (risk.Limits, error) {
	minPrice, err := book.PriceFromString(c.Risk.MinPrice)
	if err != nil {
		return risk.Limits{}, err
	}
	maxPrice, err := book.PriceFromString(c.Risk.MaxPrice)
	if err != nil {
		return risk.Limits{}, err
	}
	limits := risk.Limits{
		MaxOrderSize:    book.Quantity(c.Risk.MaxOrderSize),
		MinPrice:        minPrice,
		MaxPrice:        maxPrice,
		MaxPosition:     c.Risk.MaxPosition,
		MinPosition:     c.Risk.MinPosition,
		OrdersPerSecond: c.Risk.OrdersPerSecond,
	}
	if c.Risk.MaxNotional != "" {
		limits.MaxNotional, err = decimal.NewFromString(c.Risk.MaxNotional)
		if err != nil {
			return risk.Limits{}, err
		}
	}
	return limits, nil
}
