package firecracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/vmfleet/fleetd/internal/backend"
	"github.com/vmfleet/fleetd/internal/domain"
)

func apiCall(ctx context.Context, client *http.Client, method, path string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://localhost"+path, reader)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, string(respBody))
	}
	return nil
}

// netmaskFromCIDR converts the prefix of a CIDR subnet (e.g. "172.30.0.0/24")
// to a dotted-quad mask.
func netmaskFromCIDR(subnet string) (string, error) {
	parts := strings.Split(subnet, "/")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid subnet %q", subnet)
	}
	prefix, err := strconv.Atoi(parts[1])
	if err != nil || prefix < 0 || prefix > 32 {
		return "", fmt.Errorf("invalid subnet prefix %q", parts[1])
	}
	mask := uint32(0xFFFFFFFF) << uint32(32-prefix)
	return uint32ToIP(mask), nil
}

type loggerConfig struct {
	LogPath string `json:"log_path"`
	Level   string `json:"level"`
}

type bootSource struct {
	KernelImagePath string `json:"kernel_image_path"`
	BootArgs        string `json:"boot_args"`
}

type driveConfig struct {
	DriveID      string `json:"drive_id"`
	PathOnHost   string `json:"path_on_host"`
	IsRootDevice bool   `json:"is_root_device"`
	IsReadOnly   bool   `json:"is_read_only"`
}

type networkInterface struct {
	IfaceID     string `json:"iface_id"`
	HostDevName string `json:"host_dev_name"`
	GuestMac    string `json:"guest_mac,omitempty"`
}

type vsockConfig struct {
	VsockID  string `json:"vsock_id"`
	GuestCID uint32 `json:"guest_cid"`
	UdsPath  string `json:"uds_path"`
}

type machineConfig struct {
	VcpuCount  int  `json:"vcpu_count"`
	MemSizeMib int  `json:"mem_size_mib"`
	SmtEnabled bool `json:"smt_enabled"`
}

type actionRequest struct {
	ActionType string `json:"action_type"`
}

// apiBoot drives the Firecracker API socket through the full wire sequence
// required to boot a VM: logger, boot source, rootfs drive, network
// interface, vsock, machine config, then InstanceStart. Order matters —
// Firecracker rejects most of these once the instance is running.
func apiBoot(ctx context.Context, client *http.Client, h *vmHandle, cfg *Config, vmID string, spec domain.Spec) error {
	if err := apiCall(ctx, client, http.MethodPut, "/logger", loggerConfig{
		LogPath: "log",
		Level:   cfg.LogLevel,
	}); err != nil {
		return &backend.BootError{Subkind: backend.BootSubkindConfigure, Err: err}
	}

	gateway := h.ip
	// derive the gateway (bridge) address: same /24, host .1
	if idx := strings.LastIndex(gateway, "."); idx >= 0 {
		gateway = gateway[:idx] + ".1"
	}
	netmask, err := netmaskFromCIDR(cfg.Subnet)
	if err != nil {
		return &backend.BootError{Subkind: backend.BootSubkindConfigure, Err: err}
	}

	bootArgs := fmt.Sprintf(
		"console=ttyS0 reboot=k panic=1 pci=off init=/init quiet 8250.nr_uarts=0 ip=%s::%s:%s::eth0:off",
		h.ip, gateway, netmask,
	)
	if len(spec.Cmd) > 0 {
		bootArgs += " -- " + strings.Join(spec.Cmd, " ")
	}

	if err := apiCall(ctx, client, http.MethodPut, "/boot-source", bootSource{
		KernelImagePath: cfg.KernelPath,
		BootArgs:        bootArgs,
	}); err != nil {
		return &backend.BootError{Subkind: backend.BootSubkindConfigure, Err: err}
	}

	if err := apiCall(ctx, client, http.MethodPut, "/drives/rootfs", driveConfig{
		DriveID:      "rootfs",
		PathOnHost:   spec.RootfsPath,
		IsRootDevice: true,
		IsReadOnly:   false,
	}); err != nil {
		return &backend.BootError{Subkind: backend.BootSubkindConfigure, Err: err}
	}

	if err := apiCall(ctx, client, http.MethodPut, "/network-interfaces/eth0", networkInterface{
		IfaceID:     "eth0",
		HostDevName: h.tap,
		GuestMac:    h.mac,
	}); err != nil {
		return &backend.BootError{Subkind: backend.BootSubkindConfigure, Err: err}
	}

	if err := apiCall(ctx, client, http.MethodPut, "/vsock", vsockConfig{
		VsockID:  "vsock0",
		GuestCID: h.cid,
		UdsPath:  cfg.VsockDir + "/" + vmID + ".vsock",
	}); err != nil {
		return &backend.BootError{Subkind: backend.BootSubkindConfigure, Err: err}
	}

	if err := apiCall(ctx, client, http.MethodPut, "/machine-config", machineConfig{
		VcpuCount:  spec.Resources.VCPU,
		MemSizeMib: spec.Resources.MemMB,
		SmtEnabled: false,
	}); err != nil {
		return &backend.BootError{Subkind: backend.BootSubkindConfigure, Err: err}
	}

	if err := apiCall(ctx, client, http.MethodPut, "/actions", actionRequest{
		ActionType: "InstanceStart",
	}); err != nil {
		return &backend.BootError{Subkind: backend.BootSubkindInstanceStart, Err: err}
	}

	return nil
}
