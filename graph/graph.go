//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package graph runs agent graphs: nodes over a message state, routed by
// static and conditional edges, checkpointed after every step and able to
// suspend for a human decision.
package graph

import (
	"context"
	"fmt"
)

// NodeFunc is the body of a node. It receives a copy of the state.
type NodeFunc func(ctx context.Context, state State) (Update, error)

// ConditionalFunc picks the next node from the state after a node ran.
type ConditionalFunc func(ctx context.Context, state State) (string, error)

// Node is a named step of a graph.
type Node struct {
	ID          string
	Name        string
	Description string
	Function    NodeFunc
}

// Edge is an unconditional transition.
type Edge struct {
	From string
	To   string
}

// ConditionalEdge routes by the result of Condition. A nil PathMap uses the
// result as the target node.
type ConditionalEdge struct {
	From      string
	Condition ConditionalFunc
	PathMap   map[string]string
}

// Graph is the compiled, immutable graph an Executor runs.
type Graph struct {
	nodes            map[string]*Node
	edges            map[string][]*Edge
	conditionalEdges map[string]*ConditionalEdge
	entryPoint       string
}

// Node returns the node with id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns the number of nodes.
func (g *Graph) Nodes() int { return len(g.nodes) }

// Edges returns the static edges leaving id.
func (g *Graph) Edges(id string) []*Edge { return g.edges[id] }

// ConditionalEdge returns the conditional edge leaving id.
func (g *Graph) ConditionalEdge(id string) (*ConditionalEdge, bool) {
	e, ok := g.conditionalEdges[id]
	return e, ok
}

// EntryPoint returns the first node.
func (g *Graph) EntryPoint() string { return g.entryPoint }

func (g *Graph) validate() error {
	if g.entryPoint == "" {
		return ErrEntryPointNotSet
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return fmt.Errorf("entry point node %s does not exist", g.entryPoint)
	}
	for from, edges := range g.edges {
		if _, ok := g.nodes[from]; !ok && from != Start {
			return fmt.Errorf("edge from unknown node %s", from)
		}
		for _, e := range edges {
			if _, ok := g.nodes[e.To]; !ok && e.To != End {
				return fmt.Errorf("edge from %s to unknown node %s", from, e.To)
			}
		}
	}
	for from, ce := range g.conditionalEdges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("conditional edge from unknown node %s", from)
		}
		if ce.Condition == nil {
			return fmt.Errorf("conditional edge from %s has no condition", from)
		}
		for label, to := range ce.PathMap {
			if _, ok := g.nodes[to]; !ok && to != End {
				return fmt.Errorf("conditional edge from %s (%s) to unknown node %s", from, label, to)
			}
		}
	}
	return nil
}
