//go:build !gcp

package sink

import (
	"context"
	"fmt"
)

func newGCSFromConfig(ctx context.Context, cfg GCSConfig) (Sink, error) {
	return nil, fmt.Errorf("GCS storage is not enabled in this build (use -tags gcp)")
}
