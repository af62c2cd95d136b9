package goble

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-ble/ble"
)

// Discover scans for duration and returns the peers advertising any of
// uuids, one entry per address with the latest report. Results are sorted by
// signal strength, strongest first.
func Discover(ctx context.Context, radio Radio, duration time.Duration, uuids ...ble.UUID) ([]Advertisement, error) {
	scanCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[string]Advertisement)
	)
	err := radio.Scan(scanCtx, func(adv Advertisement) {
		for _, u := range uuids {
			if adv.Advertises(u) {
				mu.Lock()
				seen[adv.Addr] = adv
				mu.Unlock()
				return
			}
		}
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	found := make([]Advertisement, 0, len(seen))
	for _, adv := range seen {
		found = append(found, adv)
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].RSSI != found[j].RSSI {
			return found[i].RSSI > found[j].RSSI
		}
		return found[i].Addr < found[j].Addr
	})
	return found, ctx.Err()
}
