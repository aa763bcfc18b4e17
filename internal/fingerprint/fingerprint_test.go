package fingerprint

import (
	"testing"

	"github.com/vmfleet/fleetd/internal/domain"
)

func baseSpec() domain.Spec {
	return domain.Spec{
		KernelPath: "/kernels/vmlinux",
		RootfsPath: "/rootfs/web.ext4",
		Cmd:        []string{"/usr/bin/web-server", "--port", "8080"},
		Env:        map[string]string{"A": "1", "B": "2", "C": "3"},
		Resources:  domain.Resources{VCPU: 2, MemMB: 512},
		Lifecycle:  domain.LifecycleService,
		WarmPool:   &domain.WarmPool{Min: 1, Max: 3},
	}
}

func TestFingerprintStableAcrossEnvOrder(t *testing.T) {
	s1 := baseSpec()
	s2 := baseSpec()
	s2.Env = map[string]string{"C": "3", "A": "1", "B": "2"}

	if fp := Of(s1); fp != Of(s2) {
		t.Fatalf("fingerprints differ despite identical content: %s vs %s", fp, Of(s2))
	}
}

func TestFingerprintDistinguishesSemanticDifference(t *testing.T) {
	s1 := baseSpec()
	s2 := baseSpec()
	s2.Resources.MemMB = 1024

	if Of(s1) == Of(s2) {
		t.Fatal("fingerprints must differ when mem_mb differs")
	}
}

func TestFingerprintUppercaseHex(t *testing.T) {
	fp := Of(baseSpec())
	for _, r := range fp {
		isHex := (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')
		if !isHex {
			t.Fatalf("fingerprint %q contains non-uppercase-hex rune %q", fp, r)
		}
	}
}

func TestFingerprintIgnoresCmdSliceAliasing(t *testing.T) {
	cmd := []string{"a", "b"}
	s1 := baseSpec()
	s1.Cmd = cmd
	fp1 := Of(s1)
	cmd[0] = "mutated"
	fp2 := Of(s1)
	if fp1 == fp2 {
		t.Fatal("expected fingerprint to differ after caller mutated the shared slice, since the spec's Cmd contents changed")
	}
}
