package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// envWithout returns the current environment minus the named variables
func envWithout(names ...string) []string {
	var env []string
	for _, e := range os.Environ() {
		keep := true
		for _, name := range names {
			if strings.HasPrefix(e, name+"=") {
				keep = false
				break
			}
		}
		if keep {
			env = append(env, e)
		}
	}
	return env
}

func TestRunCommand_MissingAPIKey(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "run")
	cmd.Env = envWithout("GEMINI_API_KEY")

	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "GEMINI_API_KEY environment variable or --api-key flag is required")
}

func TestRunCommand_MissingDatabaseURL(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "run", "--api-key", "dummy-key")
	cmd.Env = envWithout("DATABASE_URL")

	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "DATABASE_URL environment variable or --db-url flag is required")
}

func TestRunCommand_RejectsBadBucketWidth(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "run",
		"--api-key", "dummy-key",
		"--db-url", "postgres://localhost/triage",
		"--bucket-width", "1.5")

	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "bucket_width")
}

func TestRunCommand_BadConfigPath(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "run", "--config", "does-not-exist.json")
	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "failed to load config")
}

func TestLoadCommand_RequiresFile(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "load")
	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "file")
}

func TestLoadCommand_RejectsMalformedJSON(t *testing.T) {
	binaryPath := getBinaryPath(t)

	tmpDir := t.TempDir()
	badFile := filepath.Join(tmpDir, "conversations.json")
	_ = os.WriteFile(badFile, []byte("{not an array"), 0644)

	cmd := exec.Command(binaryPath, "load",
		"--file", badFile,
		"--db-url", "postgres://localhost/triage")
	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "failed to parse conversations JSON")
}
