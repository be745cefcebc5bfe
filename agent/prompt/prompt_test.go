//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trpc.group/trpc-go/trpc-agent-studio/entity"
)

func TestAgentWithoutServers(t *testing.T) {
	a := &entity.Agent{Name: "Math Agent", Role: "a calculator", Task: "add numbers", Instructions: "Be exact."}
	want := "\nYou are Math Agent. You act in a professional and concise manner.\n\n" +
		"Your role is a calculator.\n\n" +
		"Your task is add numbers\n\n" +
		"Always follow these Instructions:\nBe exact.\n"
	assert.Equal(t, want, Agent(a))
}

func TestAgentListsServers(t *testing.T) {
	a := &entity.Agent{
		Name: "Math", Role: "r", Task: "t", Instructions: "i",
		McpServers: []entity.AgentMcpServer{
			{McpServer: &entity.McpServer{Name: "calc", Description: "adds things"}},
			{McpServer: &entity.McpServer{Name: "web", Description: "searches"}},
		},
	}
	got := Agent(a)
	assert.Contains(t, got, "\nYou have access to MCP Servers and tools. If an MCP server is relevant, "+
		"then use it to retrieve live or structured data before responding.\nMCP Servers available are:\n")
	assert.Contains(t, got, "- **calc**: adds things.\n- **web**: searches.\n")
}

func TestOrchestrator(t *testing.T) {
	o := &entity.Orchestrator{Name: "Boss", Description: "route work", Instructions: "Delegate."}
	assert.Equal(t, "You are Boss.\n\nYour goal is route work.\n\nYou always follow these Instructions:\nDelegate.\n", Orchestrator(o))

	o.Agents = []entity.OrchestratorAgent{
		{Agent: &entity.Agent{Name: "Math Agent", Description: "does math"}},
	}
	assert.Contains(t, Orchestrator(o), "\nAgents available are:\n- **Math_Agent**: does math.\n")
}
