// Package setup registers the labscore MCP server with desktop MCP clients.
package setup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// DefaultServerName is the key the server is registered under.
const DefaultServerName = "labscore"

// mcpBinary is the stdio server built from cmd/mcp-server-lite.
const mcpBinary = "labscore-mcp"

// ClientConfig is the MCP client configuration file structure.
type ClientConfig struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`
	// Other top-level keys are preserved on save.
	extra map[string]json.RawMessage
}

// ServerEntry is one MCP server launched by the client.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options controls registration.
type Options struct {
	Name         string // Server key; defaults to DefaultServerName
	BinaryPath   string // Server binary; searched for when empty
	DataDir      string // Passed as LABSCORE_DATA_DIR
	RegistryDir  string // Passed as LABSCORE_REGISTRY_DIR
	InferenceURL string // Passed as LABSCORE_INFERENCE_URL
}

// Status describes the registration found in a client config.
type Status struct {
	ConfigPath string   `json:"config_path"`
	Registered bool     `json:"registered"`
	Command    string   `json:"command,omitempty"`
	DataDir    string   `json:"data_dir,omitempty"`
	Issues     []string `json:"issues"`
}

// DefaultClientConfigPath returns the desktop client's config file for this OS.
func DefaultClientConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "Claude")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", errors.New("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadClientConfig reads a client config. A missing file yields an empty config.
func LoadClientConfig(path string) (*ClientConfig, error) {
	config := &ClientConfig{MCPServers: make(map[string]ServerEntry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &config.extra); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if raw, ok := config.extra["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &config.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		if config.MCPServers == nil {
			config.MCPServers = make(map[string]ServerEntry)
		}
		delete(config.extra, "mcpServers")
	}
	return config, nil
}

// SaveClientConfig writes the config, creating its directory.
func SaveClientConfig(path string, config *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := make(map[string]any, len(config.extra)+1)
	for k, v := range config.extra {
		out[k] = v
	}
	out["mcpServers"] = config.MCPServers

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Register adds or replaces the server entry in the client config at path.
func Register(path string, opts Options) (*ServerEntry, error) {
	config, err := LoadClientConfig(path)
	if err != nil {
		return nil, err
	}

	binary := opts.BinaryPath
	if binary == "" {
		binary, err = findBinary(mcpBinary)
		if err != nil {
			return nil, fmt.Errorf("could not find server binary: %w", err)
		}
	}

	entry := ServerEntry{Command: binary, Env: make(map[string]string)}
	if opts.DataDir != "" {
		entry.Env["LABSCORE_DATA_DIR"] = opts.DataDir
	}
	if opts.RegistryDir != "" {
		entry.Env["LABSCORE_REGISTRY_DIR"] = opts.RegistryDir
	}
	if opts.InferenceURL != "" {
		entry.Env["LABSCORE_INFERENCE_URL"] = opts.InferenceURL
	}

	name := opts.Name
	if name == "" {
		name = DefaultServerName
	}
	config.MCPServers[name] = entry

	if err := SaveClientConfig(path, config); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Unregister removes the named server entry. It reports whether an entry was removed.
func Unregister(path, name string) (bool, error) {
	config, err := LoadClientConfig(path)
	if err != nil {
		return false, err
	}
	if name == "" {
		name = DefaultServerName
	}
	if _, ok := config.MCPServers[name]; !ok {
		return false, nil
	}
	delete(config.MCPServers, name)
	return true, SaveClientConfig(path, config)
}

// GetStatus inspects the registration of the named server.
func GetStatus(path, name string) (*Status, error) {
	if name == "" {
		name = DefaultServerName
	}
	status := &Status{ConfigPath: path, Issues: []string{}}

	config, err := LoadClientConfig(path)
	if err != nil {
		return nil, err
	}
	entry, ok := config.MCPServers[name]
	if !ok {
		status.Issues = append(status.Issues, fmt.Sprintf("%s is not registered", name))
		return status, nil
	}

	status.Registered = true
	status.Command = entry.Command
	status.DataDir = entry.Env["LABSCORE_DATA_DIR"]

	info, err := os.Stat(entry.Command)
	switch {
	case os.IsNotExist(err):
		status.Issues = append(status.Issues, fmt.Sprintf("Server binary not found: %s", entry.Command))
	case err == nil && runtime.GOOS != "windows" && info.Mode()&0111 == 0:
		status.Issues = append(status.Issues, fmt.Sprintf("Server binary is not executable: %s", entry.Command))
	}
	if status.DataDir != "" {
		if _, err := os.Stat(status.DataDir); os.IsNotExist(err) {
			status.Issues = append(status.Issues, fmt.Sprintf("Data directory will be created on first run: %s", status.DataDir))
		}
	}
	return status, nil
}

// findBinary looks for the server binary on PATH and in common locations.
func findBinary(binaryName string) (string, error) {
	if path, err := exec.LookPath(binaryName); err == nil {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		"./" + binaryName,
		"./bin/" + binaryName,
		filepath.Join(home, ".local", "bin", binaryName),
		"/usr/local/bin/" + binaryName,
	}
	if exe, err := os.Executable(); err == nil {
		locations = append([]string{filepath.Join(filepath.Dir(exe), binaryName)}, locations...)
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if abs, err := filepath.Abs(loc); err == nil {
				return abs, nil
			}
			return loc, nil
		}
	}

	return "", fmt.Errorf("binary '%s' not found in common locations", binaryName)
}
