package registration

import "testing"

func TestContainerInfoDoesNotPanic(t *testing.T) {
	_ = ContainerInfo()
}

func TestVMInfoDoesNotPanic(t *testing.T) {
	_ = VMInfo()
}

func TestFQDNReturnsNonEmptyOnMostHosts(t *testing.T) {
	if FQDN() == "" {
		t.Skip("os.Hostname unavailable in this sandbox")
	}
}

func TestKernelReleaseDoesNotPanic(t *testing.T) {
	_ = kernelRelease()
}
