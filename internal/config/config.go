package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds all controller settings. It is hot-reloadable: the web
// layer applies partial JSON updates via UpdateFromJSON and persists the
// result with Save, without a process restart.
type Config struct {
	mu sync.RWMutex

	// Serial link to the Arduino MASTER
	Serial SerialConfig `yaml:"serial" json:"serial"`

	// Camera frame sources for the entry/exit lanes
	Camera CameraConfig `yaml:"camera" json:"camera"`

	// Plate recognizer selection
	ANPR ANPRConfig `yaml:"anpr" json:"anpr"`

	// Billing
	Billing BillingConfig `yaml:"billing" json:"billing"`

	// Ledger persistence
	Data DataConfig `yaml:"data" json:"data"`

	// Web server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type SerialConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyUSB0 or COM5
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

type CameraConfig struct {
	// Each source is a device index ("0", "1") or a file path; an image
	// path yields a static frame (demo OCR), matching the operator UI
	// conventions of the original deployment.
	In  string `yaml:"in" json:"in"`
	Out string `yaml:"out" json:"out"`
}

type ANPRConfig struct {
	Type string `yaml:"type" json:"type"` // "demo" or an external engine name
}

type BillingConfig struct {
	FeePerHour int `yaml:"fee_per_hour" json:"feePerHour"` // VND per hour
	RoundUnit  int `yaml:"round_unit" json:"roundUnit"`    // fee rounding unit
}

type DataConfig struct {
	Dir string `yaml:"dir" json:"dir"` // directory for spots/reservations/history CSV
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			PortPath: "",
			BaudRate: 9600,
		},
		Camera: CameraConfig{
			In:  "0",
			Out: "1",
		},
		ANPR: ANPRConfig{
			Type: "demo",
		},
		Billing: BillingConfig{
			FeePerHour: 5000,
			RoundUnit:  1000,
		},
		Data: DataConfig{
			Dir: "data",
		},
		Server: ServerConfig{
			ListenAddr: ":5000",
		},
	}
}

// Load reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func Load(path string) *Config {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = Default()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: SERIAL_PORT, SERIAL_BAUD, CAM_IN, CAM_OUT, ANPR_TYPE,
// FEE_PER_HOUR, ROUND_UNIT, DATA_DIR, LISTEN_ADDR
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SERIAL_PORT"); v != "" {
		c.Serial.PortPath = v
	}
	if v := os.Getenv("SERIAL_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.BaudRate = n
		}
	}
	if v := os.Getenv("CAM_IN"); v != "" {
		c.Camera.In = v
	}
	if v := os.Getenv("CAM_OUT"); v != "" {
		c.Camera.Out = v
	}
	if v := os.Getenv("ANPR_TYPE"); v != "" {
		c.ANPR.Type = v
	}
	if v := os.Getenv("FEE_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Billing.FeePerHour = n
		}
	}
	if v := os.Getenv("ROUND_UNIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Billing.RoundUnit = n
		}
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.Data.Dir = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		return fmt.Errorf("config: no path set")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// Snapshot returns a copy of the billing and serial settings that the
// orchestrators read on every operation, so fee changes apply to the
// next exit without a restart.
func (c *Config) Snapshot() (billing BillingConfig, serial SerialConfig) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Billing, c.Serial
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved (e.g. port path, data dir).
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
