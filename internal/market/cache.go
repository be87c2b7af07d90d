package market

import (
	"sync/atomic"

	"github.com/kjannette/trahn-ticker/internal/models"
)

// QuoteCache holds the latest quote. The poller is the only writer; any
// number of goroutines may read.
type QuoteCache struct {
	latest atomic.Pointer[models.Quote]
}

func NewQuoteCache() *QuoteCache {
	return &QuoteCache{}
}

// Replace swaps in q as a whole. Readers see either the old or the new quote.
func (c *QuoteCache) Replace(q models.Quote) {
	c.latest.Store(&q)
}

// Read returns a copy of the latest quote, or false before the first write.
func (c *QuoteCache) Read() (models.Quote, bool) {
	q := c.latest.Load()
	if q == nil {
		return models.Quote{}, false
	}
	return *q, true
}
