//go:build integration
// +build integration

package integration

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

var logger = log.NewLogger()

// requireEnv returns the value of key or skips the test when it is not set.
func requireEnv(t *testing.T, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s is not set", key)
	}
	return value
}

func listArchiveContents(path string) ([]string, error) {
	output, err := command.NewFactory(env.NewRepository()).
		Create("tar", []string{"--use-compress-program", "zstd -d", "-tf", path}, nil).
		RunAndReturnTrimmedCombinedOutput()

	if err != nil {
		return nil, fmt.Errorf("failed to list archive contents, out: %s, error: %w", output, err)
	}

	contentList := strings.Split(output, "\n")
	for i, content := range contentList {
		contentList[i] = strings.TrimSuffix(content, "/")
	}

	return contentList, nil
}
