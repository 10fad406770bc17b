package addr

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
)

// safeCounterBound mirrors the JS Number.MAX_SAFE_INTEGER bound spec.md §4.1
// wants correlation-id counters to wrap at ("counter wrapping at the
// platform's safe integer bound").
const safeCounterBound = 1<<53 - 1

// NewInstanceToken generates the 4-hex-char per-process random token used
// both as the prefix of correlation ids and as part of the broker client id
// (spec.md §4.1). It is 16 bits of entropy: spec.md §9 explicitly flags the
// resulting birthday-collision risk between two Remotes on the same host
// when client ids happen to collide on the client-id string alone — it does
// not widen this token, and neither does this implementation, to keep wire
// compatibility with the documented scheme.
func NewInstanceToken() (string, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("addr: generate instance token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// HostFingerprint concatenates machine-identifying signals the same way the
// spec's algorithm does: arch/cpus/homedir/hostname/network-interfaces/
// platform/release/totalmem/type (spec.md §4.1). Total system memory has no
// portable stdlib accessor, so it is approximated from /proc/meminfo on
// Linux and reported as "unknown" elsewhere; this only affects how distinct
// two fingerprints look, not correctness, since the fingerprint is only
// ever hashed and never interpreted.
func HostFingerprint() string {
	hostname, _ := os.Hostname()
	home, _ := os.UserHomeDir()

	var macs []string
	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			if mac := iface.HardwareAddr.String(); mac != "" {
				macs = append(macs, mac)
			}
		}
	}

	parts := []string{
		runtime.GOARCH,             // arch
		fmt.Sprint(runtime.NumCPU()), // cpus
		home,                       // homedir
		hostname,                   // hostname
		strings.Join(macs, ","),    // network-interfaces
		runtime.GOOS,               // platform
		runtime.Version(),          // release (best stdlib proxy for kernel/OS release)
		totalMem(),                 // totalmem
		runtime.GOOS,               // type
	}
	return strings.Join(parts, "|")
}

func totalMem() string {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return "unknown"
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "MemTotal:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "MemTotal:"))
		}
	}
	return "unknown"
}

// ClientID computes the deterministic, <=23-byte broker client id of
// spec.md §4.1: "vrpcp" + 4-byte instance + "X" + first 13 hex chars of
// MD5(host-fingerprint).
func ClientID(instance string) string {
	sum := md5.Sum([]byte(HostFingerprint()))
	digest := hex.EncodeToString(sum[:])
	return "vrpcp" + instance + "X" + digest[:13]
}

// CorrelationCounter generates correlation ids of the form
// "{instance}-{counter++}" (spec.md §4.1), wrapping the counter at the
// platform's safe integer bound. Safe for concurrent use.
type CorrelationCounter struct {
	instance string
	n        int64
}

// NewCorrelationCounter creates a counter scoped to the given instance token.
func NewCorrelationCounter(instance string) *CorrelationCounter {
	return &CorrelationCounter{instance: instance}
}

// Next returns the next correlation id.
func (c *CorrelationCounter) Next() string {
	n := atomic.AddInt64(&c.n, 1)
	if n >= safeCounterBound {
		// Best-effort wraparound: reset and keep counting. A relaxed CAS
		// race here can only duplicate a ordinal once in 2^53 calls, which
		// the correlator treats as a normal "overwrite a completed entry"
		// no-op rather than a crash.
		atomic.StoreInt64(&c.n, 0)
		n = atomic.AddInt64(&c.n, 1)
	}
	return fmt.Sprintf("%s-%d", c.instance, n)
}

// BuildTunnelID constructs a callback tunnel id per spec.md §4.3:
// "__f__{proxyId}-{method}-{argIndex}-{suffix}".
func BuildTunnelID(proxyID, method string, argIndex int, suffix string) string {
	return fmt.Sprintf("%s%s-%s-%d-%s", TunnelPrefix, proxyID, method, argIndex, suffix)
}

// NewProxyID generates a fresh 4-hex-char proxy id used to scope tunnel ids
// to a single proxy instance (spec.md §4.4).
func NewProxyID() (string, error) {
	return NewInstanceToken()
}
