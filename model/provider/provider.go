//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package provider maps a provider name onto a concrete model.Model.
package provider

import (
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-studio/errs"
	"trpc.group/trpc-go/trpc-agent-studio/model"
	"trpc.group/trpc-go/trpc-agent-studio/model/anthropic"
	"trpc.group/trpc-go/trpc-agent-studio/model/gemini"
	"trpc.group/trpc-go/trpc-agent-studio/model/openai"
)

// Provider names.
const (
	OpenAI    = "openai"
	Groq      = "groq"
	Ollama    = "ollama"
	Anthropic = "anthropic"
	Gemini    = "gemini"
	Google    = "google"
)

const (
	groqBaseURL   = "https://api.groq.com/openai/v1"
	ollamaBaseURL = "http://localhost:11434/v1"
	// ollama ignores the key but the OpenAI client insists on one.
	ollamaAPIKey = "ollama"
)

// Config selects and authenticates a model.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// UnsupportedProviderError is returned for an unknown provider name.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider: %s", e.Provider)
}

// Is makes the error match errs.ErrValidation.
func (e *UnsupportedProviderError) Is(target error) bool { return target == errs.ErrValidation }

// New builds the model described by cfg. Names are case-insensitive.
func New(cfg Config) (model.Model, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Model))
	p := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		return nil, errs.Validation("model name is required")
	}
	switch p {
	case OpenAI:
		opts := []openai.Option{openai.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(name, opts...), nil
	case Groq:
		return openai.New(name,
			openai.WithAPIKey(cfg.APIKey),
			openai.WithBaseURL(orDefault(cfg.BaseURL, groqBaseURL)),
			openai.WithProvider(Groq),
		), nil
	case Ollama:
		return openai.New(name,
			openai.WithAPIKey(orDefault(cfg.APIKey, ollamaAPIKey)),
			openai.WithBaseURL(orDefault(cfg.BaseURL, ollamaBaseURL)),
			openai.WithProvider(Ollama),
		), nil
	case Anthropic:
		opts := []anthropic.Option{anthropic.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(name, opts...), nil
	case Gemini, Google:
		opts := []gemini.Option{gemini.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return gemini.New(name, opts...), nil
	default:
		return nil, &UnsupportedProviderError{Provider: cfg.Provider}
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
