// internal/agent/identity.go
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"

	"pointaged/internal/database"
)

// Identity is the stable machine identity the agent registers under.
// It is derived once from the hostname and persisted so renames do not
// fork the machine's history.
type Identity struct {
	MachineID   string `json:"machine_id"`
	MachineName string `json:"machine_name"`
}

// LoadOrCreateIdentity reads the persisted identity, deriving and
// saving a new one from the hostname on first run.
func LoadOrCreateIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var identity Identity
		if err := json.Unmarshal(data, &identity); err == nil && identity.MachineID != "" {
			return &identity, nil
		}
		// Unreadable file, rebuild it below.
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to read hostname: %w", err)
	}

	identity := &Identity{
		MachineID:   NormalizeIdentity(hostname),
		MachineName: hostname,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create identity directory: %w", err)
	}
	data, err = json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to persist identity: %w", err)
	}

	return identity, nil
}

// NormalizeIdentity turns a hostname into a stable identity: uppercase
// with spaces and dots collapsed to dashes.
func NormalizeIdentity(hostname string) string {
	id := strings.ToUpper(strings.TrimSpace(hostname))
	id = strings.ReplaceAll(id, " ", "-")
	id = strings.ReplaceAll(id, ".", "-")
	return id
}

// LocalAddr returns the machine's outbound IP address. The connection
// is never actually established.
func LocalAddr() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

// CollectSystemInfo gathers host details for registration. Failures
// are not fatal; registration works without system info.
func CollectSystemInfo(ctx context.Context) *database.SystemInfo {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil
	}

	return &database.SystemInfo{
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		Arch:            runtime.GOARCH,
	}
}
