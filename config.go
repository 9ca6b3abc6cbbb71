package keybroker

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/i5heu/ouroboros-keybroker/pkg/vetkd"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	DefaultDomainSeparator           = "ouroboros-keybroker"
	DefaultMaxValueSize              = 1 << 20
	DefaultGarbageCollectionInterval = 10 * time.Minute
)

// Config configures a Broker. Only Paths[0] is used at the moment.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths []string
	// MinimumFreeGB is a free-space threshold checked when the store opens.
	MinimumFreeGB uint
	// InMemory keeps all state in RAM. Paths may be empty then.
	InMemory bool

	// DomainSeparator binds every derivation to this deployment. The value
	// stored on first start wins over later configuration.
	DomainSeparator string
	// MaxValueSize bounds one encrypted value in bytes. Zero means
	// unbounded.
	MaxValueSize int
	// GarbageCollectionInterval is how often the value log is compacted.
	// Zero disables the background collection.
	GarbageCollectionInterval time.Duration

	VetKD      vetkd.Client
	VetKDKeyID vetkd.KeyID

	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
	// StoreLogger receives the storage and BadgerDB logs. If nil they are
	// discarded.
	StoreLogger *logrus.Logger
}

// FileConfig is the YAML form of Config.
type FileConfig struct {
	Paths                     []string `yaml:"paths"`
	MinimumFreeGB             uint     `yaml:"minimumFreeGB"`
	InMemory                  bool     `yaml:"inMemory"`
	DomainSeparator           string   `yaml:"domainSeparator"`
	MaxValueSize              int      `yaml:"maxValueSize"`
	GarbageCollectionInterval string   `yaml:"garbageCollectionInterval"`
	VetKD                     struct {
		URL     string `yaml:"url"`
		KeyName string `yaml:"keyName"`
	} `yaml:"vetkd"`
	Listen string `yaml:"listen"`
}

// LoadConfig reads a YAML file and fills unset fields with defaults.
func LoadConfig(path string) (FileConfig, error) { // A
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig for YAML already in memory.
func ParseConfig(data []byte) (FileConfig, error) { // A
	var fc FileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("parse config: %w", err)
	}

	if fc.DomainSeparator == "" {
		fc.DomainSeparator = DefaultDomainSeparator
	}
	if fc.MaxValueSize == 0 {
		fc.MaxValueSize = DefaultMaxValueSize
	}
	if fc.GarbageCollectionInterval == "" {
		fc.GarbageCollectionInterval = DefaultGarbageCollectionInterval.String()
	}
	if fc.VetKD.KeyName == "" {
		fc.VetKD.KeyName = vetkd.DefaultKeyName
	}
	if fc.Listen == "" {
		fc.Listen = ":4280"
	}
	if _, err := fc.gcInterval(); err != nil {
		return FileConfig{}, err
	}
	return fc, nil
}

func (fc FileConfig) gcInterval() (time.Duration, error) {
	d, err := time.ParseDuration(fc.GarbageCollectionInterval)
	if err != nil {
		return 0, fmt.Errorf("parse garbageCollectionInterval: %w", err)
	}
	return d, nil
}

// Config turns the file form into a Config. The derivation client and
// loggers are not part of the file and have to be set by the caller.
func (fc FileConfig) Config() Config {
	gc, _ := fc.gcInterval()
	return Config{
		Paths:                     fc.Paths,
		MinimumFreeGB:             fc.MinimumFreeGB,
		InMemory:                  fc.InMemory,
		DomainSeparator:           fc.DomainSeparator,
		MaxValueSize:              fc.MaxValueSize,
		GarbageCollectionInterval: gc,
		VetKDKeyID: vetkd.KeyID{
			Curve: vetkd.CurveBLS12381G2,
			Name:  fc.VetKD.KeyName,
		},
	}
}

func defaultLogger() *slog.Logger { // A
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}
