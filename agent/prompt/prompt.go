//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package prompt renders the system instructions of agents and
// orchestrators.
package prompt

import (
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-studio/entity"
)

// Agent returns the system prompt of a sub-agent.
func Agent(a *entity.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nYou are %s. You act in a professional and concise manner.\n\n", a.Name)
	fmt.Fprintf(&b, "Your role is %s.\n\n", a.Role)
	fmt.Fprintf(&b, "Your task is %s\n\n", a.Task)
	fmt.Fprintf(&b, "Always follow these Instructions:\n%s\n", a.Instructions)
	servers := a.Servers()
	if len(servers) == 0 {
		return b.String()
	}
	b.WriteString("\nYou have access to MCP Servers and tools. If an MCP server is relevant, " +
		"then use it to retrieve live or structured data before responding.\n")
	b.WriteString("MCP Servers available are:\n")
	for _, m := range servers {
		fmt.Fprintf(&b, "- **%s**: %s.\n", m.Name, m.Description)
	}
	return b.String()
}

// Orchestrator returns the system prompt of a supervisor. Members are
// listed by the name their handoff tool uses.
func Orchestrator(o *entity.Orchestrator) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n\n", o.Name)
	fmt.Fprintf(&b, "Your goal is %s.\n\n", o.Description)
	fmt.Fprintf(&b, "You always follow these Instructions:\n%s\n", o.Instructions)
	members := o.Members()
	if len(members) == 0 {
		return b.String()
	}
	b.WriteString("\nAgents available are:\n")
	for _, a := range members {
		fmt.Fprintf(&b, "- **%s**: %s.\n", entity.AgentName(a.Name), a.Description)
	}
	return b.String()
}
