// Package hardware discovers NVMe controllers and namespaces through sysfs,
// giving the device paths a run can be pointed at: namespace block devices
// for the kernel driver and PCI addresses for the user-space driver.
package hardware

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSysfsRoot is where sysfs is mounted.
const DefaultSysfsRoot = "/sys"

const sectorSize = 512

// Namespace is one NVMe namespace.
type Namespace struct {
	Name       string `json:"name"`
	NSID       int    `json:"nsid"`
	DevicePath string `json:"device_path"`
	SizeBytes  uint64 `json:"size_bytes"`
}

// Controller is one NVMe controller and its namespaces.
type Controller struct {
	Name       string      `json:"name"`
	DevicePath string      `json:"device_path"`
	Model      string      `json:"model"`
	Serial     string      `json:"serial"`
	Firmware   string      `json:"firmware_version"`
	Transport  string      `json:"transport"`
	Address    string      `json:"address"`
	State      string      `json:"state"`
	Namespaces []Namespace `json:"namespaces"`
}

// UserDriverPath returns the path that selects the user-space driver for
// this controller, or "" when it is not a PCIe device.
func (c Controller) UserDriverPath() string {
	if c.Transport != "pcie" {
		return ""
	}
	return c.Address
}

// Capabilities is the result of one detection pass.
type Capabilities struct {
	Controllers []Controller `json:"controllers"`
	LastUpdated time.Time    `json:"last_updated"`
}

// Detector reads controller state from sysfs.
type Detector struct {
	mu           sync.RWMutex
	root         string
	capabilities Capabilities
}

// NewDetector creates a detector reading sysfs under root. An empty root
// selects DefaultSysfsRoot.
func NewDetector(root string) *Detector {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &Detector{root: root}
}

// Refresh rescans sysfs and returns the new result.
func (d *Detector) Refresh() Capabilities {
	caps := Capabilities{
		Controllers: d.detectControllers(),
		LastUpdated: time.Now(),
	}

	d.mu.Lock()
	d.capabilities = caps
	d.mu.Unlock()

	log.Debug().Int("controllers", len(caps.Controllers)).Msg("NVMe detection complete")
	return caps
}

// GetCapabilities returns the result of the last Refresh.
func (d *Detector) GetCapabilities() Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.capabilities
}

func (d *Detector) detectControllers() []Controller {
	classPath := filepath.Join(d.root, "class", "nvme")
	entries, err := os.ReadDir(classPath)
	if err != nil {
		log.Debug().Str("path", classPath).Msg("No NVMe controllers found in sysfs")
		return nil
	}

	var out []Controller
	for _, entry := range entries {
		name := entry.Name()
		if _, err := strconv.Atoi(strings.TrimPrefix(name, "nvme")); err != nil || !strings.HasPrefix(name, "nvme") {
			continue
		}

		ctrlPath := filepath.Join(classPath, name)
		ctrl := Controller{
			Name:       name,
			DevicePath: "/dev/" + name,
			Model:      readSysfsFile(filepath.Join(ctrlPath, "model")),
			Serial:     readSysfsFile(filepath.Join(ctrlPath, "serial")),
			Firmware:   readSysfsFile(filepath.Join(ctrlPath, "firmware_rev")),
			Transport:  readSysfsFile(filepath.Join(ctrlPath, "transport")),
			Address:    readSysfsFile(filepath.Join(ctrlPath, "address")),
			State:      readSysfsFile(filepath.Join(ctrlPath, "state")),
			Namespaces: d.detectNamespaces(ctrlPath, name),
		}
		out = append(out, ctrl)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *Detector) detectNamespaces(ctrlPath, ctrl string) []Namespace {
	entries, err := os.ReadDir(ctrlPath)
	if err != nil {
		return nil
	}

	prefix := ctrl + "n"
	var out []Namespace
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		nsPath := filepath.Join(ctrlPath, name)

		nsid, err := strconv.Atoi(readSysfsFile(filepath.Join(nsPath, "nsid")))
		if err != nil {
			nsid, _ = strconv.Atoi(strings.TrimPrefix(name, prefix))
		}
		sectors, _ := strconv.ParseUint(readSysfsFile(filepath.Join(nsPath, "size")), 10, 64)

		out = append(out, Namespace{
			Name:       name,
			NSID:       nsid,
			DevicePath: "/dev/" + name,
			SizeBytes:  sectors * sectorSize,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].NSID < out[j].NSID })
	return out
}

// readSysfsFile reads a sysfs file and returns its content.
func readSysfsFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
