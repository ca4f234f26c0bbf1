//go:build gcp

package artifacts

import "context"

func newGCSStore(ctx context.Context, cfg GCSConfig) (Store, error) {
	return NewGCSStore(ctx, cfg)
}
