//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"trpc.group/trpc-go/trpc-agent-studio/errs"
	"trpc.group/trpc-go/trpc-agent-studio/graph"
	"trpc.group/trpc-go/trpc-agent-studio/log"
	"trpc.group/trpc-go/trpc-agent-studio/runner"
	"trpc.group/trpc-go/trpc-agent-studio/stream"
	"trpc.group/trpc-go/trpc-agent-studio/thread"
)

// runRequest is the body of POST /chat/threads/{thread_id}/runs/stream.
type runRequest struct {
	AssistantID     string          `json:"assistant_id"`
	Input           json.RawMessage `json:"input"`
	Command         *runCommand     `json:"command"`
	StreamMode      streamModes     `json:"stream_mode"`
	StreamSubgraphs bool            `json:"stream_subgraphs"`
	OnDisconnect    string          `json:"on_disconnect"`
	Config          struct {
		Configurable map[string]any `json:"configurable"`
	} `json:"config"`
	Metadata   map[string]any `json:"metadata"`
	Checkpoint *struct {
		CheckpointID string `json:"checkpoint_id"`
	} `json:"checkpoint"`
	CheckpointID    string   `json:"checkpoint_id"`
	InterruptBefore []string `json:"interrupt_before"`
	InterruptAfter  []string `json:"interrupt_after"`
}

// runCommand resumes an interrupted thread.
type runCommand struct {
	Resume json.RawMessage `json:"resume"`
	Goto   json.RawMessage `json:"goto"`
	Update json.RawMessage `json:"update"`
}

// streamModes accepts a single mode or a list.
type streamModes []string

func (m *streamModes) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*m = streamModes{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("stream_mode must be a string or a list of strings: %w", err)
	}
	*m = many
	return nil
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req thread.CreateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	th, err := s.threads.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, th)
}

func (s *Server) handleSearchThreads(w http.ResponseWriter, r *http.Request) {
	var req thread.SearchRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.threads.Search(r.Context(), req))
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	th, err := s.threads.Get(r.Context(), mux.Vars(r)["thread_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, th)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["thread_id"]
	if err := s.threads.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "thread_id": id})
}

func (s *Server) handleThreadState(w http.ResponseWriter, r *http.Request) {
	view, err := s.history.State(r.Context(), mux.Vars(r)["thread_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleThreadHistory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if r.Method == http.MethodPost {
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	} else if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, errs.Validation("limit %q is not a number", v))
			return
		}
		req.Limit = n
	}
	views, err := s.history.History(r.Context(), mux.Vars(r)["thread_id"], req.Limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["thread_id"]
	var body runRequest
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := toRunnerRequest(threadID, &body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	log.Infof("run requested on thread %s (assistant %s)", threadID, req.AssistantID)

	run, events, err := s.runs.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	modes := []string(body.StreamMode)
	if len(modes) == 0 {
		modes = stream.DefaultModes
	}
	stream.SetHeaders(w.Header())
	w.Header().Set("Content-Location", fmt.Sprintf("%s/threads/%s/runs/%s", ChatPrefix, threadID, run.ID))
	w.WriteHeader(http.StatusOK)

	sw := stream.NewWriter(w, stream.WithInterval(s.streamDelay))
	sess := stream.Session{
		RunID:     run.ID,
		Modes:     modes,
		Subgraphs: body.StreamSubgraphs,
		Envelope: stream.BuildEnvelope(stream.EnvelopeParams{
			RunID:       run.ID,
			ThreadID:    threadID,
			AssistantID: req.AssistantID,
			Header:      r.Header,
			APIURL:      s.publicURL,
		}),
	}
	if err := stream.Pump(r.Context(), sw, sess, events); err != nil {
		log.Debugf("stream of run %s ended early: %v", run.ID, err)
	}
}

// toRunnerRequest validates the body and converts it.
func toRunnerRequest(threadID string, body *runRequest) (runner.Request, error) {
	if body.AssistantID == "" {
		return runner.Request{}, errs.Validation("assistant_id is required")
	}
	req := runner.Request{
		ThreadID:        threadID,
		AssistantID:     body.AssistantID,
		OnDisconnect:    body.OnDisconnect,
		InterruptBefore: body.InterruptBefore,
		InterruptAfter:  body.InterruptAfter,
		CheckpointID:    body.CheckpointID,
	}
	if body.Checkpoint != nil && body.Checkpoint.CheckpointID != "" {
		req.CheckpointID = body.Checkpoint.CheckpointID
	}
	if id, ok := body.Config.Configurable["checkpoint_id"].(string); ok && req.CheckpointID == "" {
		req.CheckpointID = id
	}

	if body.Command != nil {
		if present(body.Command.Goto) {
			return runner.Request{}, errs.Validation("command.goto is not supported")
		}
		if present(body.Command.Update) {
			return runner.Request{}, errs.Validation("command.update is not supported")
		}
		if present(body.Command.Resume) {
			cmd, err := decodeResume(body.Command.Resume)
			if err != nil {
				return runner.Request{}, err
			}
			req.Resume = cmd
			return req, nil
		}
	}
	input, err := stream.DecodeInput(body.Input)
	if err != nil {
		return runner.Request{}, err
	}
	req.Input = input
	return req, nil
}

// decodeResume reads command.resume. An object keyed by interrupt ids
// answers interrupts by id; anything else answers the pending interrupt.
func decodeResume(raw json.RawMessage) (*graph.ResumeCommand, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &errs.ValidationError{Msg: "decode command.resume", Cause: err}
	}
	if m, ok := v.(map[string]any); ok && len(m) > 0 {
		if _, decision := m["type"]; !decision {
			return &graph.ResumeCommand{ResumeMap: m}, nil
		}
	}
	return &graph.ResumeCommand{Resume: v}, nil
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.runs.Cancel(vars["thread_id"], vars["run_id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "cancelling",
		"thread_id": vars["thread_id"],
		"run_id":    vars["run_id"],
	})
}
