package stream

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// pingProbe is the default Prober: a single ICMP echo with a bounded
// timeout. An unanswered ping is not an error, just unreachable.
func pingProbe(ctx context.Context, host string, timeout time.Duration) (bool, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false, fmt.Errorf("resolving %s: %w", host, err)
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	// Unprivileged UDP ping; no raw socket capability needed.
	pinger.SetPrivileged(false)

	if err := pinger.RunWithContext(ctx); err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("pinging %s: %w", host, err)
	}

	return pinger.Statistics().PacketsRecv > 0, nil
}
