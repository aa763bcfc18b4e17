package cloudhypervisor

import "testing"

func TestAllocateIPNeverReusesWhileHeld(t *testing.T) {
	d := &Driver{usedIPs: make(map[string]bool), nextIP: 2}

	a := d.allocateIP()
	b := d.allocateIP()
	if a == b {
		t.Fatalf("expected distinct IPs, got %q twice", a)
	}
}

func TestReleaseIPAllowsReuse(t *testing.T) {
	d := &Driver{usedIPs: make(map[string]bool), nextIP: 2}

	a := d.allocateIP()
	d.releaseIP(a)
	if _, held := d.usedIPs[a]; held {
		t.Fatalf("expected %q released", a)
	}
}
