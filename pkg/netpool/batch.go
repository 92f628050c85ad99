package netpool

// Call is one API call awaiting batching.
type Call struct {
	Method string
	URL    string
}

// Batch groups calls sharing a method and domain.
type Batch struct {
	Method string
	Domain string
	Calls  []Call
}

// GroupIntoBatches groups calls by (method, domain) and splits each
// group into chunks of at most maxBatchSize.
func (o *Optimizer) GroupIntoBatches(calls []Call, maxBatchSize int) []Batch {
	if maxBatchSize <= 0 {
		maxBatchSize = 10
	}

	order := make([]string, 0)
	groups := make(map[string][]Call)
	for _, c := range calls {
		key := c.Method + ":" + GetDomain(c.URL)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}

	var batches []Batch
	for _, key := range order {
		group := groups[key]
		for i := 0; i < len(group); i += maxBatchSize {
			end := i + maxBatchSize
			if end > len(group) {
				end = len(group)
			}
			chunk := group[i:end]
			batches = append(batches, Batch{
				Method: chunk[0].Method,
				Domain: GetDomain(chunk[0].URL),
				Calls:  chunk,
			})
		}
	}
	return batches
}

// AutoScale grows the connection pool when usage is high, mirroring the
// "double, capped at 50" policy from the reference optimizer: triggers
// once TotalRequests exceeds 100, doubling MaxConnections up to a hard
// cap of 50.
func (o *Optimizer) AutoScale() {
	o.mu.Lock()
	total := o.metrics.TotalRequests
	o.mu.Unlock()

	if total <= 100 {
		return
	}

	current := o.cfg.MaxConnections
	newSize := current * 2
	if newSize > 50 {
		newSize = 50
	}
	if newSize == current {
		return
	}
	o.pool.Resize(newSize)
	o.cfg.MaxConnections = newSize
}
