package core

import "context"

// ShutdownFunc is a cleanup handler run during shutdown. It should honor
// ctx's deadline and be safe to call more than once.
type ShutdownFunc func(ctx context.Context) error
