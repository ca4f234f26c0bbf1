//go:build !gcp

package artifacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStore_GCSNeedsBuildTag(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Backend: BackendGCS, GCS: GCSConfig{Bucket: "b"}})
	require.ErrorContains(t, err, "-tags gcp")
}
