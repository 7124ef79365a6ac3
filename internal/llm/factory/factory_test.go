package factory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "forgeflow/internal/errors"
	"forgeflow/internal/llm/anthropic"
	"forgeflow/internal/llm/command"
	"forgeflow/internal/llm/gemini"
	"forgeflow/internal/llm/openai"
)

func TestNewSelectsProvider(t *testing.T) {
	cases := []struct {
		cfg  Config
		want any
	}{
		{Config{APIKey: "k"}, &gemini.Client{}},
		{Config{Provider: "Gemini", APIKey: "k"}, &gemini.Client{}},
		{Config{Provider: "openai", APIKey: "k"}, &openai.Client{}},
		{Config{Provider: "anthropic", APIKey: "k"}, &anthropic.Client{}},
		{Config{Provider: "command", Command: "python3"}, &command.Client{}},
	}
	for _, tc := range cases {
		model, err := New(tc.cfg, nil)
		require.NoError(t, err, tc.cfg.Provider)
		assert.IsType(t, tc.want, model, tc.cfg.Provider)
	}
}

func TestNewPropagatesProviderValidation(t *testing.T) {
	_, err := New(Config{Provider: "openai"}, nil)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "llama"}, nil)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestEchoProvider(t *testing.T) {
	model, err := New(Config{Provider: "echo"}, nil)
	require.NoError(t, err)
	reply, err := model.Prompt(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "ping", reply)
}

func TestTimeout(t *testing.T) {
	assert.Equal(t, time.Duration(0), Config{}.Timeout())
	assert.Equal(t, 30*time.Second, Config{TimeoutSeconds: 30}.Timeout())
}
