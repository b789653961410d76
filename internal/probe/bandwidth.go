package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultSampleBytes caps a bandwidth sample at 2 MiB so a single probe stays
// cheap even on fast links.
const DefaultSampleBytes = 2 << 20

// BandwidthProber samples download throughput by timing a capped HTTP GET
// against addr (a URL). Throughput is bytes/sec over the read.
type BandwidthProber struct {
	Client      *http.Client
	SampleBytes int64
}

func NewBandwidthProber() *BandwidthProber {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DisableCompression = true
	return &BandwidthProber{
		Client:      &http.Client{Transport: t},
		SampleBytes: DefaultSampleBytes,
	}
}

func (p *BandwidthProber) Probe(ctx context.Context, addr string) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("bandwidth request %s: %w", addr, err)
	}

	start := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("bandwidth fetch %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return Outcome{}, fmt.Errorf("bandwidth fetch %s: %s", addr, resp.Status)
	}

	max := p.SampleBytes
	if max <= 0 {
		max = DefaultSampleBytes
	}
	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, max))
	if err != nil && n == 0 {
		return Outcome{}, fmt.Errorf("bandwidth read %s: %w", addr, err)
	}
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 || n == 0 {
		return Outcome{}, fmt.Errorf("bandwidth sample %s: empty body", addr)
	}
	return Outcome{Throughput: float64(n) / elapsed}, nil
}
