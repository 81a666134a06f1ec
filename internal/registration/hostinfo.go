package registration

import (
	"os"
	"runtime"
	"strings"
)

// ContainerInfo reports the container technology the agent is running
// under, if any, the Go analog of get_container_info's lightweight
// filesystem probes (no container runtime client dependency needed for
// a single boolean-ish classification).
func ContainerInfo() string {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "docker"
	}
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		switch {
		case contains(data, "docker"):
			return "docker"
		case contains(data, "lxc"):
			return "lxc"
		case contains(data, "kubepods"):
			return "kubernetes"
		}
	}
	return ""
}

// VMInfo reports the virtualization technology the agent is running
// under, or "" on bare metal/unknown, grounded on get_vm_info's
// /sys/class/dmi probe approach, generalized across GOOS.
func VMInfo() string {
	if runtime.GOOS != "linux" {
		return ""
	}
	if vendor, err := os.ReadFile("/sys/class/dmi/id/sys_vendor"); err == nil {
		switch {
		case contains(vendor, "QEMU"), contains(vendor, "KVM"):
			return "kvm"
		case contains(vendor, "VMware"):
			return "vmware"
		case contains(vendor, "Xen"):
			return "xen"
		case contains(vendor, "Microsoft"):
			return "hyperv"
		}
	}
	if release := kernelRelease(); contains([]byte(release), "microsoft") {
		return "wsl"
	}
	return ""
}

func contains(data []byte, substr string) bool {
	return strings.Contains(string(data), substr)
}

// FQDN returns the hostname reported by os.Hostname, or "" on error; no
// resolver lookup is made to expand a short name.
func FQDN() string {
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	return host
}
