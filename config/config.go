package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap-incubator/tinyocc/log"
	"github.com/pingcap-incubator/tinyocc/occ/cell"
	"github.com/pingcap/errors"
)

type Config struct {
	LogLevel string  `toml:"log-level" json:"log-level"`
	LogFile  LogFile `toml:"log-file" json:"log-file"`

	// Number of cells, A is the first one.
	Cells int `toml:"cells" json:"cells"`
	// Initial cell values by index. Missing trailing values take the default layout N-1-i.
	InitialValues []int `toml:"initial-values" json:"initial-values"`
	// Simulated I/O latency of every cell operation.
	Delay Duration `toml:"delay" json:"delay"`

	Workers   int `toml:"workers" json:"workers"`
	QueueSize int `toml:"queue-size" json:"queue-size"`
	// Unit of the linear backoff after a conflict.
	BackoffBase Duration `toml:"backoff-base" json:"backoff-base"`
	// How long a batch may run before the remaining work is canceled.
	Timeout Duration `toml:"timeout" json:"timeout"`
	// Transactions submitted per second, 0 for no pacing.
	SubmitRate float64 `toml:"submit-rate" json:"submit-rate"`

	// Status API address, empty to disable.
	StatusAddr string `toml:"status-addr" json:"status-addr"`
}

// LogFile configures the rotated log file.
type LogFile struct {
	Filename   string `toml:"filename" json:"filename"`
	MaxSize    int    `toml:"max-size" json:"max-size"`
	MaxBackups int    `toml:"max-backups" json:"max-backups"`
	MaxDays    int    `toml:"max-days" json:"max-days"`
}

const (
	defaultCells       = cell.MaxCells
	defaultWorkers     = 3
	defaultQueueSize   = 128
	defaultDelay       = 100 * time.Millisecond
	defaultBackoffBase = 100 * time.Millisecond
	defaultTimeout     = 30 * time.Second
	defaultLogMaxSize  = 300 // MB
)

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:    getLogLevel(),
		LogFile:     LogFile{MaxSize: defaultLogMaxSize},
		Cells:       defaultCells,
		Delay:       NewDuration(defaultDelay),
		Workers:     defaultWorkers,
		QueueSize:   defaultQueueSize,
		BackoffBase: NewDuration(defaultBackoffBase),
		Timeout:     NewDuration(defaultTimeout),
	}
}

func NewTestConfig() *Config {
	return &Config{
		LogLevel:    getLogLevel(),
		Cells:       defaultCells,
		Workers:     4,
		QueueSize:   16,
		BackoffBase: NewDuration(2 * time.Millisecond),
		Timeout:     NewDuration(10 * time.Second),
	}
}

// Load decodes the TOML file at path over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	c := NewDefaultConfig()
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, errors.Annotatef(err, "load config %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, errors.Errorf("config %s contains undefined item: %s", path, strings.Join(keys, ", "))
	}
	c.Adjust()
	return c, nil
}

// Adjust fills zero fields that have no meaningful zero value.
func (c *Config) Adjust() {
	adjustString(&c.LogLevel, getLogLevel())
	adjustInt(&c.Cells, defaultCells)
	adjustInt(&c.Workers, defaultWorkers)
	adjustDuration(&c.Timeout, defaultTimeout)
	adjustDuration(&c.BackoffBase, defaultBackoffBase)
}

func (c *Config) Validate() error {
	if c.Cells < 1 || c.Cells > cell.MaxCells {
		return fmt.Errorf("cells must be in [1, %d], got %d", cell.MaxCells, c.Cells)
	}
	if len(c.InitialValues) > c.Cells {
		return fmt.Errorf("%d initial values given for %d cells", len(c.InitialValues), c.Cells)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue-size must not be negative, got %d", c.QueueSize)
	}
	if c.Delay.Duration < 0 {
		return fmt.Errorf("delay must not be negative, got %v", c.Delay)
	}
	if c.BackoffBase.Duration <= 0 {
		return fmt.Errorf("backoff-base must be positive, got %v", c.BackoffBase)
	}
	if c.Timeout.Duration <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.SubmitRate < 0 {
		return fmt.Errorf("submit-rate must not be negative, got %v", c.SubmitRate)
	}
	if c.Workers > c.Cells*4 {
		log.Warnf("%d workers over %d cells will mostly conflict", c.Workers, c.Cells)
	}
	return nil
}

// Values returns the initial value of every cell.
func (c *Config) Values() []int {
	values := cell.DefaultValues(c.Cells)
	copy(values, c.InitialValues)
	return values
}

// LogFileConfig converts the file settings for log.Init.
func (c *Config) LogFileConfig() log.FileConfig {
	return log.FileConfig{
		Filename:   c.LogFile.Filename,
		MaxSize:    c.LogFile.MaxSize,
		MaxBackups: c.LogFile.MaxBackups,
		MaxDays:    c.LogFile.MaxDays,
	}
}

func adjustString(v *string, defValue string) {
	if len(*v) == 0 {
		*v = defValue
	}
}

func adjustInt(v *int, defValue int) {
	if *v == 0 {
		*v = defValue
	}
}

func adjustDuration(v *Duration, defValue time.Duration) {
	if v.Duration == 0 {
		v.Duration = defValue
	}
}
