package record

import "context"

type Service interface {
	// Start moves the service socket aside, proxies and records every
	// connection until ctx is cancelled, then puts the socket back.
	Start(ctx context.Context) error
}
