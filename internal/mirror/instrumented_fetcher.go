package mirror

import (
	"context"
	"io"

	"github.com/mirrorfetch/mirrorfetch/internal/telemetry"
)

// InstrumentedFetcher wraps a FileFetcher with telemetry.
type InstrumentedFetcher struct {
	fetcher   FileFetcher
	telemetry *telemetry.Telemetry
}

// NewInstrumentedFetcher creates a new instrumented fetcher.
func NewInstrumentedFetcher(fetcher FileFetcher, tel *telemetry.Telemetry) *InstrumentedFetcher {
	return &InstrumentedFetcher{
		fetcher:   fetcher,
		telemetry: tel,
	}
}

// Fetch fetches a file with telemetry.
func (f *InstrumentedFetcher) Fetch(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	var body io.ReadCloser

	var size int64

	var err error

	instrumentedErr := f.telemetry.InstrumentFetchOperation(ctx, "fetch", func(ctx context.Context) error {
		body, size, err = f.fetcher.Fetch(ctx, path)

		return err
	})

	if instrumentedErr != nil {
		return nil, 0, instrumentedErr
	}

	return body, size, nil
}
