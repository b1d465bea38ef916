//go:build integration
// +build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrise-io/go-coldstorage/network"
)

func TestFetchSource(t *testing.T) {
	url := requireEnv(t, "COLDSTORAGE_TEST_SOURCE_URL")
	dest := filepath.Join(t.TempDir(), "source.bin")

	require.NoError(t, network.FetchSource(context.Background(), url, dest, logger))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
