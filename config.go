package frontier

import (
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Config is the configuration instance the rest of the frontier should access
// for global configuration values. See FrontierConfig for available config
// members.
var Config FrontierConfig

// ConfigName is the path (can be relative or absolute) to the config file that
// should be read.
var ConfigName string = "urlfrontier.yaml"

func init() {
	err := readConfig()
	if err != nil {
		if strings.Contains(err.Error(), "no such file or directory") {
			log.Infof("Did not find config file %v, continuing with defaults", ConfigName)
		} else {
			panic(err.Error())
		}
	}
}

// FrontierConfig defines the available global configuration parameters for
// the frontier. It reads values straight from the config file
// (urlfrontier.yaml by default). See sample-urlfrontier.yaml for explanations
// and default values.
type FrontierConfig struct {
	Frontier struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`

		// DefaultMinDelaySeconds is the politeness delay applied to every
		// queue of a crawl unless overridden through SetCrawlLimits.
		DefaultMinDelaySeconds int `yaml:"default_min_delay_seconds"`

		// DefaultDelayRequestableSeconds is how long a served URL stays
		// in-flight before it becomes eligible to be served again.
		DefaultDelayRequestableSeconds int `yaml:"default_delay_requestable_seconds"`

		MaxConcurrentStreams   int `yaml:"max_concurrent_streams"`
		IngestOutstandingLimit int `yaml:"ingest_outstanding_limit"`
		FetchDeadlineMs        int `yaml:"fetch_deadline_ms"`

		// MaxIngestRate caps how many items per second the engine accepts
		// across all ingest streams. Zero means unlimited.
		MaxIngestRate int `yaml:"max_ingest_rate"`

		// KnownCacheCapacity sizes the per-crawl bloom filter placed in
		// front of the known-set.
		KnownCacheCapacity uint `yaml:"known_cache_capacity"`

		// KeyCacheSize is the number of url -> queue key derivations kept in
		// the LRU cache.
		KeyCacheSize int `yaml:"key_cache_size"`
	} `yaml:"frontier"`

	Store struct {
		// Backend selects the queue store implementation: "memory", "badger"
		// or "cassandra".
		Backend string `yaml:"backend"`

		Badger struct {
			Directory string `yaml:"directory"`
		} `yaml:"badger"`
	} `yaml:"store"`

	Cassandra struct {
		Hosts             []string `yaml:"hosts"`
		Keyspace          string   `yaml:"keyspace"`
		ReplicationFactor int      `yaml:"replication_factor"`
		Timeout           string   `yaml:"timeout"`
		NumConns          int      `yaml:"num_conns"`
	} `yaml:"cassandra"`

	Console struct {
		Port int `yaml:"port"`
	} `yaml:"console"`
}

// SetDefaultConfig resets the Config object to default values, regardless of
// what was set by any configuration file.
func SetDefaultConfig() {
	// NOTE: go-yaml has a bug where it does not overwrite sequence values
	// (i.e. lists), it appends to them.
	// See https://github.com/go-yaml/yaml/issues/48
	// Until this is fixed, for any sequence value, in readConfig we have to
	// nil it and then fill in the default value if yaml.Unmarshal did not fill
	// anything in

	Config.Frontier.Host = ""
	Config.Frontier.Port = 7071
	Config.Frontier.DefaultMinDelaySeconds = 1
	Config.Frontier.DefaultDelayRequestableSeconds = 30
	Config.Frontier.MaxConcurrentStreams = 256
	Config.Frontier.IngestOutstandingLimit = 10000
	Config.Frontier.FetchDeadlineMs = 1000
	Config.Frontier.MaxIngestRate = 0
	Config.Frontier.KnownCacheCapacity = 1000000
	Config.Frontier.KeyCacheSize = 20000

	Config.Store.Backend = "memory"
	Config.Store.Badger.Directory = "urlfrontier-data"

	Config.Cassandra.Hosts = []string{"localhost"}
	Config.Cassandra.Keyspace = "urlfrontier"
	Config.Cassandra.ReplicationFactor = 3
	Config.Cassandra.Timeout = "2s"
	Config.Cassandra.NumConns = 2

	Config.Console.Port = 3000
}

// ReadConfigFile sets a new path to find the frontier yaml config file and
// forces a reload of the config.
func ReadConfigFile(path string) error {
	ConfigName = path
	return readConfig()
}

func assertConfigInvariants() error {
	var errs []string
	fr := &Config.Frontier
	if fr.Port < 1 || fr.Port > 65535 {
		errs = append(errs, "Frontier.Port must be a valid tcp port")
	}
	if fr.DefaultMinDelaySeconds < 0 {
		errs = append(errs, "Frontier.DefaultMinDelaySeconds must not be negative")
	}
	if fr.DefaultDelayRequestableSeconds < 1 {
		errs = append(errs, "Frontier.DefaultDelayRequestableSeconds must be greater than 0")
	}
	if fr.IngestOutstandingLimit < 1 {
		errs = append(errs, "Frontier.IngestOutstandingLimit must be greater than 0")
	}
	if fr.FetchDeadlineMs < 1 {
		errs = append(errs, "Frontier.FetchDeadlineMs must be greater than 0")
	}
	if fr.KeyCacheSize < 1 {
		errs = append(errs, "Frontier.KeyCacheSize must be greater than 0")
	}

	switch Config.Store.Backend {
	case "memory", "badger", "cassandra":
	default:
		errs = append(errs, fmt.Sprintf("Store.Backend %q is not one of memory, badger, cassandra", Config.Store.Backend))
	}

	_, err := time.ParseDuration(Config.Cassandra.Timeout)
	if err != nil {
		errs = append(errs, fmt.Sprintf("Cassandra.Timeout failed to parse: %v", err))
	}

	if len(errs) > 0 {
		em := ""
		for _, err := range errs {
			log.Errorf("Config Error: %v", err)
			em += "\t"
			em += err
			em += "\n"
		}
		return fmt.Errorf("Config Error:\n%v\n", em)
	}

	return nil
}

func readConfig() error {
	SetDefaultConfig()

	// See NOTE in SetDefaultConfig regarding sequence values
	Config.Cassandra.Hosts = []string{}

	data, err := os.ReadFile(ConfigName)
	if err != nil {
		return fmt.Errorf("Failed to read config file (%v): %v", ConfigName, err)
	}
	err = yaml.Unmarshal(data, &Config)
	if err != nil {
		return fmt.Errorf("Failed to unmarshal yaml from config file (%v): %v", ConfigName, err)
	}

	// See NOTE in SetDefaultConfig regarding sequence values
	if len(Config.Cassandra.Hosts) == 0 {
		Config.Cassandra.Hosts = []string{"localhost"}
	}

	err = assertConfigInvariants()
	if err == nil {
		log.Infof("Loaded config file %v", ConfigName)
	}
	return err
}
