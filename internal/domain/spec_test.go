package domain

import "testing"

func TestSpecValidate(t *testing.T) {
	base := Spec{
		KernelPath: "/kernels/vmlinux",
		RootfsPath: "/rootfs/base.ext4",
		Lifecycle:  LifecycleService,
		Resources:  Resources{VCPU: 1, MemMB: 128},
	}

	tests := []struct {
		name    string
		mutate  func(s Spec) Spec
		wantErr bool
	}{
		{"valid", func(s Spec) Spec { return s }, false},
		{"missing kernel", func(s Spec) Spec { s.KernelPath = ""; return s }, true},
		{"missing rootfs", func(s Spec) Spec { s.RootfsPath = ""; return s }, true},
		{"bad lifecycle", func(s Spec) Spec { s.Lifecycle = "daemonish"; return s }, true},
		{"zero vcpu", func(s Spec) Spec { s.Resources.VCPU = 0; return s }, true},
		{"zero mem", func(s Spec) Spec { s.Resources.MemMB = 0; return s }, true},
		{"negative warm min", func(s Spec) Spec {
			s.WarmPool = &WarmPool{Min: -1, Max: 3}
			return s
		}, true},
		{"zero warm max", func(s Spec) Spec {
			s.WarmPool = &WarmPool{Min: 1, Max: 0}
			return s
		}, true},
		{"valid warm pool", func(s Spec) Spec {
			s.WarmPool = &WarmPool{Min: 1, Max: 3}
			return s
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mutate(base).Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSpecWantsWarm(t *testing.T) {
	s := Spec{}
	if s.WantsWarm() {
		t.Fatal("spec with no warm_pool should not want warm")
	}
	s.WarmPool = &WarmPool{Min: 0, Max: 1}
	if s.WantsWarm() {
		t.Fatal("warm_pool.min == 0 should not want warm")
	}
	s.WarmPool = &WarmPool{Min: 1, Max: 1}
	if !s.WantsWarm() {
		t.Fatal("warm_pool.min > 0 should want warm")
	}
}

func TestWarmSentinelTenant(t *testing.T) {
	if !WarmSentinel.IsWarmSentinel() {
		t.Fatal("WarmSentinel must report itself as the sentinel")
	}
	if Tenant("real-tenant").IsWarmSentinel() {
		t.Fatal("a real tenant must not report itself as the sentinel")
	}
}
