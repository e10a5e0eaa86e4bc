package ports

import "context"

type ResourceFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
