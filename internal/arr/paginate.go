package arr

import "context"

// WantedKind selects which wanted listing a Pager walks.
type WantedKind string

const (
	WantedMissing WantedKind = "missing"
	WantedCutoff  WantedKind = "cutoff"
)

// DefaultPageSize is the page size used by discovery sweeps.
const DefaultPageSize = 1000

// Pager is a lazy, restartable iterator over a wanted listing. Pages are
// fetched one at a time (bounded concurrency of one) and each page goes
// through the lenient record parser.
type Pager struct {
	client   WantedLister
	kind     WantedKind
	pageSize int

	page    int
	total   int
	skipped int
	done    bool
}

// WantedLister is the client subset a Pager needs.
type WantedLister interface {
	WantedMissing(ctx context.Context, page, pageSize int) (*WantedPage, error)
	WantedCutoff(ctx context.Context, page, pageSize int) (*WantedPage, error)
}

// NewPager builds a Pager starting at page 1.
func NewPager(client WantedLister, kind WantedKind, pageSize int) *Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{client: client, kind: kind, pageSize: pageSize, page: 1}
}

// Next yields the next page of validated records, or (nil, nil) once the
// listing is exhausted. Pages whose records were all dropped by the lenient
// parser are walked over, so a nil result always means the end of the
// listing rather than a run of malformed records.
func (p *Pager) Next(ctx context.Context) ([]WantedRecord, error) {
	for !p.done {
		var (
			page *WantedPage
			err  error
		)
		switch p.kind {
		case WantedCutoff:
			page, err = p.client.WantedCutoff(ctx, p.page, p.pageSize)
		default:
			page, err = p.client.WantedMissing(ctx, p.page, p.pageSize)
		}
		if err != nil {
			return nil, err
		}
		p.total = page.TotalRecords
		p.skipped += page.Skipped
		p.page++

		// The listing ends when a page comes back empty or we have walked
		// past the reported total. Skipped records still count toward
		// progress.
		consumed := (p.page - 1) * p.pageSize
		if len(page.Records) == 0 && page.Skipped == 0 || consumed >= p.total {
			p.done = true
		}
		if len(page.Records) > 0 {
			return page.Records, nil
		}
	}
	return nil, nil
}

// Skipped returns the number of malformed records dropped so far.
func (p *Pager) Skipped() int { return p.skipped }

// Total returns the upstream-reported total record count, once known.
func (p *Pager) Total() int { return p.total }

// Reset restarts the Pager from page 1.
func (p *Pager) Reset() {
	p.page = 1
	p.total = 0
	p.skipped = 0
	p.done = false
}
