package firecracker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/vmfleet/fleetd/internal/backend"
	"github.com/vmfleet/fleetd/internal/domain"
	"github.com/vmfleet/fleetd/internal/logging"
)

const guestVsockPort = 1025

// Boot spawns a Firecracker process for vmID, drives it through the API
// wire sequence, and waits for the guest to report healthy. On any failure
// it runs the same cleanup path Stop uses, then returns a *backend.BootError.
func (m *Manager) Boot(ctx context.Context, vmID string, tenant domain.Tenant, spec domain.Spec) (string, int, error) {
	log := logging.Op().With("vm_id", vmID, "driver", "firecracker")

	if err := ensureBridge(m.cfg.BridgeName, m.cfg.Subnet); err != nil {
		return "", 0, &backend.BootError{Subkind: backend.BootSubkindTAP, Err: err}
	}

	cid, ok := m.cidPool.acquire()
	if !ok {
		return "", 0, &backend.BootError{Subkind: backend.BootSubkindSpawn, Err: fmt.Errorf("cid pool exhausted")}
	}
	ip, ok := m.ipPool.acquire()
	if !ok {
		m.cidPool.release(cid)
		return "", 0, &backend.BootError{Subkind: backend.BootSubkindSpawn, Err: fmt.Errorf("ip pool exhausted")}
	}

	h := &vmHandle{cid: cid, ip: ip, mac: generateMAC(vmID)}

	tap, err := createTAP(vmID, m.cfg.BridgeName)
	if err != nil {
		m.cidPool.release(cid)
		m.ipPool.release(ip)
		return "", 0, &backend.BootError{Subkind: backend.BootSubkindTAP, Err: err}
	}
	h.tap = tap
	m.setHandle(vmID, h)

	bootCtx, cancel := context.WithTimeout(ctx, m.cfg.BootTimeout)
	defer cancel()

	socketPath := m.socketPath(vmID)
	_ = os.Remove(socketPath)

	logFile, err := os.Create(m.logPath(vmID))
	if err != nil {
		m.cleanup(vmID)
		return "", 0, &backend.BootError{Subkind: backend.BootSubkindSpawn, Err: err}
	}
	defer logFile.Close()

	cmd := exec.CommandContext(context.Background(), m.cfg.FirecrackerBin, "--api-sock", socketPath)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		m.cleanup(vmID)
		return "", 0, &backend.BootError{Subkind: backend.BootSubkindSpawn, Err: err}
	}
	h.proc = cmd.Process
	m.setHandle(vmID, h)

	go func() {
		_ = cmd.Wait()
	}()

	if err := waitForFileCreation(bootCtx, socketPath); err != nil {
		m.cleanup(vmID)
		return "", 0, &backend.BootError{Subkind: backend.BootSubkindSpawn, Err: err}
	}

	client := httpClientForSocket(socketPath)
	if err := apiBoot(bootCtx, client, h, m.cfg, vmID, spec); err != nil {
		m.cleanup(vmID)
		return "", 0, err
	}

	healthClient := &http.Client{Timeout: m.cfg.HealthInterval + 2*time.Second}
	if err := waitHealthy(bootCtx, healthClient, h.ip, m.cfg.GuestPort, m.cfg.HealthInterval, m.cfg.HealthTimeout); err != nil {
		m.cleanup(vmID)
		return "", 0, &backend.BootError{Subkind: backend.BootSubkindHealthCheck, Err: err}
	}

	log.Info("vm booted", "ip", h.ip, "tenant", string(tenant))
	return h.ip, m.cfg.GuestPort, nil
}

// WarmUp primes the guest agent over vsock. The VM must already be booted
// (handle present); this does not start anything.
func (m *Manager) WarmUp(ctx context.Context, vmID string, spec domain.Spec) error {
	h, ok := m.handle(vmID)
	if !ok {
		return &backend.WarmUpError{Subkind: backend.WarmUpSubkindVsock, Err: fmt.Errorf("unknown vm %s", vmID)}
	}

	warmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	payload := []byte(fmt.Sprintf("warm:%dvcpu:%dmb", spec.Resources.VCPU, spec.Resources.MemMB))
	if err := primeWarmUp(warmCtx, h.cid, guestVsockPort, payload); err != nil {
		if warmCtx.Err() != nil {
			return &backend.WarmUpError{Subkind: backend.WarmUpSubkindTimeout, Err: err}
		}
		return &backend.WarmUpError{Subkind: backend.WarmUpSubkindVsock, Err: err}
	}
	return nil
}

// Stop runs the cleanup sequence: graceful SIGTERM to the process group,
// a grace period, SIGKILL fallback, then release of every host resource.
// Never returns an observable error — unreachable processes are logged.
func (m *Manager) Stop(vmID string) error {
	log := logging.Op().With("vm_id", vmID, "driver", "firecracker")
	h, ok := m.handle(vmID)
	if !ok {
		return nil
	}

	if h.proc != nil {
		if err := syscall.Kill(-h.proc.Pid, syscall.SIGTERM); err != nil {
			log.Warn("sigterm failed", "err", err)
		}

		done := make(chan struct{})
		go func() {
			_, _ = h.proc.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			if err := syscall.Kill(-h.proc.Pid, syscall.SIGKILL); err != nil {
				log.Warn("sigkill failed", "err", err)
			}
		}
	}

	m.cleanup(vmID)
	return nil
}

// cleanup is the idempotent 5-step teardown: stop tracking the handle,
// remove the API socket, remove the vsock UDS, release the TAP, release
// CID/IP back to their pools. Safe to call multiple times.
func (m *Manager) cleanup(vmID string) {
	h, ok := m.handle(vmID)
	if !ok {
		return
	}
	m.dropHandle(vmID)

	_ = os.Remove(m.socketPath(vmID))
	_ = os.Remove(m.vsockPath(vmID))
	if h.tap != "" {
		deleteTAP(h.tap)
	}
	if h.cid != 0 {
		m.cidPool.release(h.cid)
	}
	if h.ip != "" {
		m.ipPool.release(h.ip)
	}
}
