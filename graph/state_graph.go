//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package graph

import "fmt"

// StateGraph builds a Graph.
type StateGraph struct {
	graph *Graph
	err   error
}

// NewStateGraph creates an empty builder.
func NewStateGraph() *StateGraph {
	return &StateGraph{graph: &Graph{
		nodes:            make(map[string]*Node),
		edges:            make(map[string][]*Edge),
		conditionalEdges: make(map[string]*ConditionalEdge),
	}}
}

// Option is a function that configures a Node.
type Option func(*Node)

// WithName sets the display name of a node.
func WithName(name string) Option {
	return func(n *Node) { n.Name = name }
}

// WithDescription sets the description of a node.
func WithDescription(description string) Option {
	return func(n *Node) { n.Description = description }
}

// AddNode adds a node. Reusing an id or a reserved id fails Compile.
func (sg *StateGraph) AddNode(id string, function NodeFunc, opts ...Option) *StateGraph {
	if id == Start || id == End {
		sg.fail(fmt.Errorf("node id %s is reserved", id))
		return sg
	}
	if _, ok := sg.graph.nodes[id]; ok {
		sg.fail(fmt.Errorf("duplicate node %s", id))
		return sg
	}
	n := &Node{ID: id, Name: id, Function: function}
	for _, opt := range opts {
		opt(n)
	}
	sg.graph.nodes[id] = n
	return sg
}

// AddEdge adds an unconditional edge. An edge from Start sets the entry
// point.
func (sg *StateGraph) AddEdge(from, to string) *StateGraph {
	if from == Start {
		sg.graph.entryPoint = to
		return sg
	}
	sg.graph.edges[from] = append(sg.graph.edges[from], &Edge{From: from, To: to})
	return sg
}

// AddConditionalEdges routes from a node by condition.
func (sg *StateGraph) AddConditionalEdges(from string, condition ConditionalFunc, pathMap map[string]string) *StateGraph {
	sg.graph.conditionalEdges[from] = &ConditionalEdge{From: from, Condition: condition, PathMap: pathMap}
	return sg
}

// SetEntryPoint sets the first node.
func (sg *StateGraph) SetEntryPoint(nodeID string) *StateGraph {
	sg.graph.entryPoint = nodeID
	return sg
}

// SetFinishPoint adds an edge from nodeID to End.
func (sg *StateGraph) SetFinishPoint(nodeID string) *StateGraph {
	return sg.AddEdge(nodeID, End)
}

// Compile validates and returns the graph.
func (sg *StateGraph) Compile() (*Graph, error) {
	if sg.err != nil {
		return nil, sg.err
	}
	if err := sg.graph.validate(); err != nil {
		return nil, err
	}
	return sg.graph, nil
}

// MustCompile is Compile that panics on error.
func (sg *StateGraph) MustCompile() *Graph {
	g, err := sg.Compile()
	if err != nil {
		panic(err)
	}
	return g
}

func (sg *StateGraph) fail(err error) {
	if sg.err == nil {
		sg.err = err
	}
}
