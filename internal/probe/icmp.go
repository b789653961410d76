package probe

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

// ICMPProber sends one echo request by shelling out to the platform ping
// binary and parsing the reported RTT. This avoids the raw-socket privilege
// that an in-process ICMP implementation would need.
type ICMPProber struct{}

func NewICMPProber() *ICMPProber {
	return &ICMPProber{}
}

var rttPatterns = []*regexp.Regexp{
	regexp.MustCompile(`time[=<]([0-9.]+)\s*ms`),
	regexp.MustCompile(`time[=<]([0-9.]+)ms`),
	regexp.MustCompile(`round-trip min/avg/max = [0-9.]+/([0-9.]+)/`),
}

func (p *ICMPProber) Probe(ctx context.Context, addr string) (Outcome, error) {
	args := pingArgs(runtime.GOOS, pingTimeout(ctx), addr)
	cmd := exec.CommandContext(ctx, "ping", args...)

	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("ping %s: %w", addr, err)
	}
	rtt, ok := parseRTT(string(out))
	if !ok {
		return Outcome{}, fmt.Errorf("ping %s: no rtt in output", addr)
	}
	return Outcome{LatencyMS: rtt}, nil
}

// pingArgs builds the one-echo invocation for the platform ping. The wait
// flag unit differs: windows -w and darwin -W take milliseconds, linux -W
// takes whole seconds.
func pingArgs(goos string, timeout time.Duration, addr string) []string {
	switch goos {
	case "windows":
		return []string{"-n", "1", "-w", strconv.Itoa(int(timeout.Milliseconds())), addr}
	case "darwin":
		return []string{"-c", "1", "-W", strconv.Itoa(int(timeout.Milliseconds())), addr}
	default:
		return []string{"-c", "1", "-W", strconv.Itoa(seconds(timeout)), addr}
	}
}

// pingTimeout derives a wait flag for the ping binary from the context
// deadline so the child process gives up on its own rather than being killed.
func pingTimeout(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
	}
	return 3 * time.Second
}

func seconds(d time.Duration) int {
	s := int(d.Seconds())
	if s < 1 {
		return 1
	}
	return s
}

func parseRTT(output string) (float64, bool) {
	for _, re := range rttPatterns {
		m := re.FindStringSubmatch(output)
		if len(m) > 1 {
			if rtt, err := strconv.ParseFloat(m[1], 64); err == nil {
				return rtt, true
			}
		}
	}
	return 0, false
}
