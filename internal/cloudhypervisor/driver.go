package cloudhypervisor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/vmfleet/fleetd/internal/backend"
	"github.com/vmfleet/fleetd/internal/domain"
	"github.com/vmfleet/fleetd/internal/logging"
)

type vmHandle struct {
	proc *os.Process
	tap  string
	ip   string
}

// Driver is the cloud-hypervisor-backed backend.Driver. Its IP
// bookkeeping is a plain mutex+map rather than firecracker's resourcePool:
// cloud-hypervisor VMs are a supplemental, lower-volume path, so the
// simpler allocator is enough.
type Driver struct {
	cfg *Config

	mu      sync.Mutex
	vms     map[string]*vmHandle
	nextIP  uint32
	usedIPs map[string]bool
}

func NewDriver(cfg *Config) (*Driver, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := ensureDirs(cfg.RootfsDir, cfg.LogDir); err != nil {
		return nil, fmt.Errorf("cloudhypervisor: prepare directories: %w", err)
	}
	return &Driver{
		cfg:     cfg,
		vms:     make(map[string]*vmHandle),
		nextIP:  2,
		usedIPs: make(map[string]bool),
	}, nil
}

func (d *Driver) Name() string { return "cloudhypervisor" }

func (d *Driver) allocateIP() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		octet := d.nextIP
		d.nextIP++
		ip := fmt.Sprintf("172.30.0.%d", octet%254+1)
		if !d.usedIPs[ip] {
			d.usedIPs[ip] = true
			return ip
		}
	}
}

func (d *Driver) releaseIP(ip string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.usedIPs, ip)
}

func (d *Driver) Boot(ctx context.Context, vmID string, tenant domain.Tenant, spec domain.Spec) (string, int, error) {
	log := logging.Op().With("vm_id", vmID, "driver", "cloudhypervisor")

	ip := d.allocateIP()
	tap := "fleetch-" + vmID[:min(6, len(vmID))]
	if out, err := exec.Command("ip", "tuntap", "add", tap, "mode", "tap").CombinedOutput(); err != nil {
		d.releaseIP(ip)
		return "", 0, &backend.BootError{Subkind: backend.BootSubkindTAP, Err: fmt.Errorf("%s: %w", out, err)}
	}
	if out, err := exec.Command("ip", "link", "set", tap, "master", d.cfg.BridgeName).CombinedOutput(); err != nil {
		d.teardownTap(tap)
		d.releaseIP(ip)
		return "", 0, &backend.BootError{Subkind: backend.BootSubkindTAP, Err: fmt.Errorf("%s: %w", out, err)}
	}
	_ = exec.Command("ip", "link", "set", tap, "up").Run()

	logPath := filepath.Join(d.cfg.LogDir, vmID+".ch.log")
	logFile, err := os.Create(logPath)
	if err != nil {
		d.teardownTap(tap)
		d.releaseIP(ip)
		return "", 0, &backend.BootError{Subkind: backend.BootSubkindSpawn, Err: err}
	}
	defer logFile.Close()

	args := []string{
		"--kernel", d.cfg.KernelPath,
		"--disk", "path=" + spec.RootfsPath,
		"--cpus", fmt.Sprintf("boot=%d", spec.Resources.VCPU),
		"--memory", fmt.Sprintf("size=%dM", spec.Resources.MemMB),
		"--net", fmt.Sprintf("tap=%s,ip=%s,mask=255.255.255.0", tap, ip),
		"--cmdline", fmt.Sprintf("console=ttyS0 reboot=k panic=1 ip=%s::172.30.0.1:255.255.255.0::eth0:off", ip),
	}

	cmd := exec.CommandContext(context.Background(), d.cfg.Binary, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		d.teardownTap(tap)
		d.releaseIP(ip)
		return "", 0, &backend.BootError{Subkind: backend.BootSubkindSpawn, Err: err}
	}

	d.mu.Lock()
	d.vms[vmID] = &vmHandle{proc: cmd.Process, tap: tap, ip: ip}
	d.mu.Unlock()

	go func() { _ = cmd.Wait() }()

	bootCtx, cancel := context.WithTimeout(ctx, d.cfg.BootTimeout)
	defer cancel()
	healthClient := &http.Client{Timeout: d.cfg.HealthInterval + 2*time.Second}
	if err := d.waitHealthy(bootCtx, healthClient, ip); err != nil {
		d.Stop(vmID)
		return "", 0, &backend.BootError{Subkind: backend.BootSubkindHealthCheck, Err: err}
	}

	log.Info("vm booted", "ip", ip, "tenant", string(tenant))
	return ip, d.cfg.GuestPort, nil
}

// WarmUp has no cloud-hypervisor-specific priming channel analogous to
// Firecracker's vsock; it only confirms the guest is still healthy.
func (d *Driver) WarmUp(ctx context.Context, vmID string, spec domain.Spec) error {
	d.mu.Lock()
	h, ok := d.vms[vmID]
	d.mu.Unlock()
	if !ok {
		return &backend.WarmUpError{Subkind: backend.WarmUpSubkindVsock, Err: fmt.Errorf("unknown vm %s", vmID)}
	}
	client := &http.Client{Timeout: 2 * time.Second}
	if err := d.waitHealthy(ctx, client, h.ip); err != nil {
		return &backend.WarmUpError{Subkind: backend.WarmUpSubkindTimeout, Err: err}
	}
	return nil
}

func (d *Driver) Stop(vmID string) error {
	d.mu.Lock()
	h, ok := d.vms[vmID]
	if ok {
		delete(d.vms, vmID)
	}
	d.mu.Unlock()
	if !ok {
		return nil
	}

	if h.proc != nil {
		_ = syscall.Kill(-h.proc.Pid, syscall.SIGTERM)
		done := make(chan struct{})
		go func() {
			_, _ = h.proc.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			_ = syscall.Kill(-h.proc.Pid, syscall.SIGKILL)
		}
	}

	d.teardownTap(h.tap)
	d.releaseIP(h.ip)
	return nil
}

func (d *Driver) teardownTap(tap string) {
	if tap == "" {
		return
	}
	_ = exec.Command("ip", "link", "del", tap).Run()
}

func (d *Driver) waitHealthy(ctx context.Context, client *http.Client, ip string) error {
	url := fmt.Sprintf("http://%s:%d/health", ip, d.cfg.GuestPort)
	ticker := time.NewTicker(d.cfg.HealthInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(d.cfg.HealthTimeout)

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err == nil {
			resp, err := client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					return nil
				}
				if resp.StatusCode < 500 {
					return fmt.Errorf("health check returned %d", resp.StatusCode)
				}
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("health check timed out")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
