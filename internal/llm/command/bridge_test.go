package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgeflow/internal/llm"
)

// TestHelperProcess is executed as the external model program.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("FORGEFLOW_HELPER_MODE")
	if mode == "" {
		return
	}
	input, _ := io.ReadAll(os.Stdin)
	var req struct {
		Prompt string `json:"prompt"`
	}
	_ = json.Unmarshal(input, &req)

	switch mode {
	case "echo":
		out, _ := json.Marshal(map[string]string{"response": "echo: " + req.Prompt})
		fmt.Fprint(os.Stdout, string(out))
		os.Exit(0)
	case "ratelimit":
		fmt.Fprint(os.Stdout, `{"error":{"code":429,"message":"busy"}}`)
		os.Exit(1)
	case "crash":
		fmt.Fprint(os.Stderr, "boom")
		os.Exit(2)
	}
	os.Exit(3)
}

func helper(t *testing.T, mode string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess"},
		Env:     []string{"FORGEFLOW_HELPER_MODE=" + mode},
	})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresCommand(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestPromptEcho(t *testing.T) {
	reply, err := helper(t, "echo").Prompt(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", reply)
}

func TestPromptStructuredError(t *testing.T) {
	_, err := helper(t, "ratelimit").Prompt(context.Background(), "hello")
	require.Error(t, err)
	perr, ok := llm.ParseProviderError(err)
	require.True(t, ok)
	assert.True(t, perr.RateLimited())
}

func TestPromptProcessFailure(t *testing.T) {
	_, err := helper(t, "crash").Prompt(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	_, ok := llm.ParseProviderError(err)
	assert.False(t, ok)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "python3", ResolvePath("/srv", "python3"))
	assert.Equal(t, filepath.Join("/srv", "scripts", "model.py"), ResolvePath("/srv", filepath.Join("scripts", "model.py")))
	assert.Equal(t, "/abs/model", ResolvePath("/srv", "/abs/model"))
}
