package firecracker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// vmHandle tracks the host-side resources a live VM holds, so Stop can
// release them even if the caller only knows the vmID.
type vmHandle struct {
	cid  uint32
	ip   string
	tap  string
	proc *os.Process
	mac  string
}

// Manager is the Firecracker-backed implementation of backend.Driver. It
// owns CID/IP allocation and the host bridge, and builds a UDS-dialing
// HTTP client for a VM's API socket while booting it.
type Manager struct {
	cfg *Config

	mu   sync.Mutex
	vms  map[string]*vmHandle

	cidPool *resourcePool[uint32]
	ipPool  *resourcePool[string]
}

// NewManager validates the config, creates its directories, pre-fills the
// CID/IP pools, and returns a Manager ready to boot VMs.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := ensureDirs(cfg.RootfsDir, cfg.SocketDir, cfg.VsockDir, cfg.LogDir); err != nil {
		return nil, fmt.Errorf("firecracker: prepare directories: %w", err)
	}

	m := &Manager{
		cfg:     cfg,
		vms:     make(map[string]*vmHandle),
		cidPool: newResourcePool[uint32](),
		ipPool:  newResourcePool[string](),
	}
	initCIDPool(m.cidPool)
	if err := initIPPool(m.ipPool, cfg.Subnet); err != nil {
		return nil, fmt.Errorf("firecracker: init ip pool: %w", err)
	}
	return m, nil
}

func (m *Manager) Name() string { return "firecracker" }

func (m *Manager) socketPath(vmID string) string {
	return filepath.Join(m.cfg.SocketDir, vmID+".sock")
}

func (m *Manager) vsockPath(vmID string) string {
	return filepath.Join(m.cfg.VsockDir, vmID+".vsock")
}

func (m *Manager) logPath(vmID string) string {
	return filepath.Join(m.cfg.LogDir, vmID+".log")
}

func (m *Manager) handle(vmID string) (*vmHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.vms[vmID]
	return h, ok
}

func (m *Manager) setHandle(vmID string, h *vmHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vms[vmID] = h
}

func (m *Manager) dropHandle(vmID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vms, vmID)
}

// httpClientForSocket returns a client that dials the VM's UDS API socket
// for every request, regardless of the request's nominal host.
func httpClientForSocket(socketPath string) *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
			MaxIdleConns:        2,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}
