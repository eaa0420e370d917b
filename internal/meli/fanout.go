package meli

import (
	"context"
	"sync"
)

// BatchRequest is one tenant's entry in a fan-out search batch.
type BatchRequest struct {
	Token string
	Query OrderSearch
}

// Outcome is the settled result of one entry in a fan-out batch: either a
// fulfilled page or the error that rejected it.
type Outcome struct {
	Page OrderPage
	Err  error
}

// Fulfilled reports whether the request settled successfully.
func (o Outcome) Fulfilled() bool {
	return o.Err == nil
}

// SearchOrdersAll issues every request in the batch concurrently and blocks
// until all have settled. Each request runs under the client's per-request
// timeout, so one slow tenant cannot stall the batch past that bound; a
// timed-out request settles as rejected with a TransportError.
//
// The returned map has exactly one entry per input key. Rejections never
// fail the batch.
func (c Client) SearchOrdersAll(ctx context.Context, batch map[string]BatchRequest) map[string]Outcome {
	type settled struct {
		key     string
		outcome Outcome
	}

	keys := make([]string, 0, len(batch))
	for key := range batch {
		keys = append(keys, key)
	}

	// Each goroutine writes only its own slot, so no locking is needed
	// between entries.
	results := make([]settled, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string, req BatchRequest) {
			defer wg.Done()

			page, err := c.SearchOrders(ctx, req.Token, req.Query)
			results[i] = settled{key: key, outcome: Outcome{Page: page, Err: err}}
		}(i, key, batch[key])
	}
	wg.Wait()

	outcomes := make(map[string]Outcome, len(results))
	for _, r := range results {
		outcomes[r.key] = r.outcome
	}

	return outcomes
}
