// Package config implements the configuration management described in
// section 6 of the design specification. It holds every CLI-settable
// parameter for a restore run and validates them before the Orchestrator
// starts.
package config

import (
	"fmt"

	"github.com/splunkops/sabb/filterset"
)

// Config holds every configuration parameter named in section 6.
type Config struct {
	ConnectString    string // archive credentials/endpoint
	DestDownloadRoot string // on-disk download root, default "./blob_downloads/"
	ThreadCount      int    // download parallelism, default 10, >=1

	Standalone        bool   // skip peer directory lookup
	SplunkHome        string // local filesystem root for instance.cfg / server.conf lookups
	SplunkUsername    string
	SplunkPassword    string
	ClusterMaster     string
	ClusterMasterPort int // default 8089

	LogLevel int // 1..3

	ContainerSearch filterset.Filter
	BlobSearch      filterset.Filter

	WriteOutFullListOnly bool
	SkipToCSVLoad        bool
	TestAmount           int // stop listing each container after N entries; 0 = unlimited
}

// Default returns a Config populated with section 6's stated defaults.
func Default() Config {
	return Config{
		DestDownloadRoot:  "./blob_downloads/",
		ThreadCount:       10,
		ClusterMasterPort: 8089,
		LogLevel:          2,
	}
}

// Validate ensures all required fields are present and within range, per
// section 6's flag descriptions and section 7's "missing credentials,
// unreachable cluster master" fatal-initialization-failure policy.
func (c *Config) Validate() error {
	if c.ConnectString == "" {
		return fmt.Errorf("connect_string is required")
	}
	if c.DestDownloadRoot == "" {
		return fmt.Errorf("dest_download_loc_root must not be empty")
	}
	if c.ThreadCount < 1 {
		return fmt.Errorf("thread_count must be at least 1")
	}
	if c.LogLevel < 1 || c.LogLevel > 3 {
		return fmt.Errorf("log_level must be between 1 and 3")
	}
	if c.TestAmount < 0 {
		return fmt.Errorf("test_amount must be >= 0")
	}

	if !c.Standalone {
		if c.SplunkUsername == "" || c.SplunkPassword == "" {
			return fmt.Errorf("splunk_username and splunk_password are required in clustered mode")
		}
		if c.ClusterMaster == "" && c.SplunkHome == "" {
			return fmt.Errorf("cluster_master or splunk_home is required in clustered mode")
		}
		if c.ClusterMasterPort < 1 || c.ClusterMasterPort > 65535 {
			return fmt.Errorf("cluster_master_port must be a valid TCP port")
		}
	}

	return nil
}
