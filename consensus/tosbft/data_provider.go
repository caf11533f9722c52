package tosbft

import "context"

// DataProvider supplies the opaque payload for a freshly-created
// PreUnit. GetData may suspend (it is one of Runway's only suspension
// points); it returns an error only if ctx is cancelled.
type DataProvider interface {
	GetData(ctx context.Context) (Data, error)
}

// DataProviderFunc adapts a plain function to DataProvider.
type DataProviderFunc func(ctx context.Context) (Data, error)

func (f DataProviderFunc) GetData(ctx context.Context) (Data, error) { return f(ctx) }
