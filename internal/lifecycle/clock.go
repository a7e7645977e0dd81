package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"github.com/doorbelld/doorbelld/internal/config"
	"github.com/doorbelld/doorbelld/internal/doorbellerr"
)

// minStratumOnePeers is the number of stratum-1 responses required before
// the wall clock is considered synchronized (§4.13 step 6).
const minStratumOnePeers = 2

// clockQuery abstracts the NTP round trip so tests can inject canned
// responses instead of reaching the network.
type clockQuery func(ctx context.Context, server string, timeout time.Duration) (*ntp.Response, error)

func defaultClockQuery(ctx context.Context, server string, timeout time.Duration) (*ntp.Response, error) {
	opts := ntp.QueryOptions{Timeout: timeout}
	return ntp.QueryWithOptions(server, opts)
}

// syncClock queries every configured server concurrently and requires at
// least minStratumOnePeers stratum-1 responses within cfg.Timeout. A
// shortfall is fatal per §4.13 ("failures at step 6 are fatal").
func syncClock(ctx context.Context, cfg config.ClockConfig, query clockQuery) (string, error) {
	if len(cfg.Servers) < minStratumOnePeers {
		return "", doorbellerr.New(doorbellerr.InvalidArg, "lifecycle", "syncClock", fmt.Errorf("need at least %d NTP servers, got %d", minStratumOnePeers, len(cfg.Servers)))
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	type result struct {
		server string
		resp   *ntp.Response
		err    error
	}

	results := make(chan result, len(cfg.Servers))
	var wg sync.WaitGroup
	for _, server := range cfg.Servers {
		wg.Add(1)
		go func(server string) {
			defer wg.Done()
			resp, err := query(ctx, server, cfg.Timeout)
			results <- result{server: server, resp: resp, err: err}
		}(server)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var stratumOne int
	var best *ntp.Response
	for r := range results {
		if r.err != nil || r.resp == nil {
			continue
		}
		if r.resp.Stratum == 1 {
			stratumOne++
			best = r.resp
		}
	}

	if stratumOne < minStratumOnePeers {
		return "", doorbellerr.New(doorbellerr.Timeout, "lifecycle", "syncClock", fmt.Errorf("only %d/%d stratum-1 peers answered within %s", stratumOne, minStratumOnePeers, cfg.Timeout))
	}

	return fmt.Sprintf("synced against %d stratum-1 peers, offset %s", stratumOne, best.ClockOffset), nil
}
