//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-agent-studio/errs"
)

func TestNew(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{"OpenAI", "openai"},
		{"groq", "groq"},
		{"Ollama", "ollama"},
		{"anthropic", "anthropic"},
		{"gemini", "gemini"},
		{"google", "gemini"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			m, err := New(Config{Provider: tt.provider, Model: "Some-Model", APIKey: "k"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Info().Provider)
			assert.Equal(t, "some-model", m.Info().Name)
		})
	}
}

func TestNewUnsupported(t *testing.T) {
	_, err := New(Config{Provider: "mistral", Model: "x"})
	require.Error(t, err)
	var upe *UnsupportedProviderError
	assert.True(t, errors.As(err, &upe))
	assert.True(t, errors.Is(err, errs.ErrValidation))

	_, err = New(Config{Provider: "openai"})
	assert.True(t, errors.Is(err, errs.ErrValidation))
}
