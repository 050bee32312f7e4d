package config

import "testing"

func validStandaloneConfig() *Config {
	c := Default()
	c.ConnectString = "DefaultEndpointsProtocol=https;AccountName=test;AccountKey=abc123;"
	c.Standalone = true
	return &c
}

func validClusteredConfig() *Config {
	c := validStandaloneConfig()
	c.Standalone = false
	c.SplunkUsername = "admin"
	c.SplunkPassword = "changeme"
	c.ClusterMaster = "cm.example.com"
	return c
}

func TestValidStandaloneConfig(t *testing.T) {
	if err := validStandaloneConfig().Validate(); err != nil {
		t.Errorf("expected valid standalone config to pass validation, got: %v", err)
	}
}

func TestValidClusteredConfig(t *testing.T) {
	if err := validClusteredConfig().Validate(); err != nil {
		t.Errorf("expected valid clustered config to pass validation, got: %v", err)
	}
}

func TestMissingConnectString(t *testing.T) {
	cfg := validStandaloneConfig()
	cfg.ConnectString = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing connect_string")
	}
}

func TestMissingDownloadRoot(t *testing.T) {
	cfg := validStandaloneConfig()
	cfg.DestDownloadRoot = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty dest_download_loc_root")
	}
}

func TestInvalidThreadCount(t *testing.T) {
	for _, n := range []int{0, -1, -100} {
		cfg := validStandaloneConfig()
		cfg.ThreadCount = n
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for thread_count=%d", n)
		}
	}
}

func TestInvalidLogLevel(t *testing.T) {
	for _, n := range []int{0, 4, -1} {
		cfg := validStandaloneConfig()
		cfg.LogLevel = n
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for log_level=%d", n)
		}
	}
}

func TestNegativeTestAmount(t *testing.T) {
	cfg := validStandaloneConfig()
	cfg.TestAmount = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative test_amount")
	}
}

func TestClusteredRequiresCredentials(t *testing.T) {
	cfg := validClusteredConfig()
	cfg.SplunkUsername = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing splunk_username in clustered mode")
	}
}

func TestClusteredRequiresMasterOrSplunkHome(t *testing.T) {
	cfg := validClusteredConfig()
	cfg.ClusterMaster = ""
	cfg.SplunkHome = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when neither cluster_master nor splunk_home is set")
	}
}

func TestClusteredAllowsSplunkHomeDiscovery(t *testing.T) {
	cfg := validClusteredConfig()
	cfg.ClusterMaster = ""
	cfg.SplunkHome = "/opt/splunk"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected splunk_home-only discovery to be valid, got: %v", err)
	}
}

func TestInvalidClusterMasterPort(t *testing.T) {
	cfg := validClusteredConfig()
	cfg.ClusterMasterPort = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid cluster_master_port")
	}
}

func TestStandaloneSkipsClusterValidation(t *testing.T) {
	cfg := validStandaloneConfig()
	cfg.ClusterMasterPort = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected standalone config to skip cluster validation, got: %v", err)
	}
}
