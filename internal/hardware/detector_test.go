package hardware

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSysfs(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content+"\n"), 0o644))
	}
}

func TestDetectControllers(t *testing.T) {
	root := t.TempDir()
	writeSysfs(t, root, map[string]string{
		"class/nvme/nvme1/model":         "KV SSD",
		"class/nvme/nvme1/transport":     "pcie",
		"class/nvme/nvme1/address":       "0000:02:00.0",
		"class/nvme/nvme1/state":         "live",
		"class/nvme/nvme1/firmware_rev":  "ETA51KBV",
		"class/nvme/nvme1/serial":        "S4X1NA0",
		"class/nvme/nvme1/nvme1n2/nsid":  "2",
		"class/nvme/nvme1/nvme1n2/size":  "2048",
		"class/nvme/nvme1/nvme1n1/size":  "4096",
		"class/nvme/nvme0/model":         "Fabric target",
		"class/nvme/nvme0/transport":     "tcp",
		"class/nvme/nvme0/address":       "traddr=10.0.0.2,trsvcid=4420",
		"class/nvme/nvme-fabrics/unused": "",
	})

	d := NewDetector(root)
	caps := d.Refresh()

	require.Len(t, caps.Controllers, 2)
	assert.Equal(t, caps, d.GetCapabilities())

	tcp, pcie := caps.Controllers[0], caps.Controllers[1]
	assert.Equal(t, "nvme0", tcp.Name)
	assert.Empty(t, tcp.UserDriverPath())
	assert.Empty(t, tcp.Namespaces)

	assert.Equal(t, "nvme1", pcie.Name)
	assert.Equal(t, "/dev/nvme1", pcie.DevicePath)
	assert.Equal(t, "KV SSD", pcie.Model)
	assert.Equal(t, "ETA51KBV", pcie.Firmware)
	assert.Equal(t, "0000:02:00.0", pcie.UserDriverPath())

	require.Len(t, pcie.Namespaces, 2)
	assert.Equal(t, Namespace{Name: "nvme1n1", NSID: 1, DevicePath: "/dev/nvme1n1", SizeBytes: 4096 * 512}, pcie.Namespaces[0])
	assert.Equal(t, 2, pcie.Namespaces[1].NSID)
	assert.Equal(t, uint64(2048*512), pcie.Namespaces[1].SizeBytes)
}

func TestDetectWithoutSysfs(t *testing.T) {
	d := NewDetector(filepath.Join(t.TempDir(), "missing"))
	caps := d.Refresh()

	assert.Empty(t, caps.Controllers)
	assert.False(t, caps.LastUpdated.IsZero())
}

func TestNewDetectorDefaultRoot(t *testing.T) {
	assert.Equal(t, DefaultSysfsRoot, NewDetector("").root)
}
