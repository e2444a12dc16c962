package engine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		kinds []EventKind
		check func(t *testing.T, evs []Event)
	}{
		{
			name:  "init",
			line:  `{"type":"system","subtype":"init","session_id":"s-1","model":"claude-sonnet-4-5"}`,
			kinds: []EventKind{EventInit},
			check: func(t *testing.T, evs []Event) {
				if evs[0].SessionID != "s-1" {
					t.Errorf("SessionID = %q", evs[0].SessionID)
				}
			},
		},
		{
			name:  "non-init system line is ignored",
			line:  `{"type":"system","subtype":"compact_boundary"}`,
			kinds: nil,
		},
		{
			name:  "assistant text and tool use",
			line:  `{"type":"assistant","session_id":"s-1","message":{"content":[{"type":"text","text":"On it."},{"type":"tool_use","id":"tu_1","name":"Bash","input":{"command":"aicib task create"}}]}}`,
			kinds: []EventKind{EventText, EventToolUse},
			check: func(t *testing.T, evs []Event) {
				if evs[0].Text != "On it." {
					t.Errorf("Text = %q", evs[0].Text)
				}
				if evs[1].ToolName != "Bash" || evs[1].ToolUseID != "tu_1" {
					t.Errorf("tool = %+v", evs[1])
				}
				if !strings.Contains(string(evs[1].ToolInput), "task create") {
					t.Errorf("ToolInput = %s", evs[1].ToolInput)
				}
			},
		},
		{
			name:  "blank assistant text is dropped",
			line:  `{"type":"assistant","message":{"content":[{"type":"text","text":"  "}]}}`,
			kinds: nil,
		},
		{
			name:  "tool result with block content",
			line:  `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu_1","content":[{"type":"text","text":"created task #42"}]}]}}`,
			kinds: []EventKind{EventToolResult},
			check: func(t *testing.T, evs []Event) {
				if evs[0].Text != "created task #42" || evs[0].ToolUseID != "tu_1" {
					t.Errorf("tool result = %+v", evs[0])
				}
			},
		},
		{
			name:  "tool result with string content",
			line:  `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu_2","content":"boom","is_error":true}]}}`,
			kinds: []EventKind{EventToolResult},
			check: func(t *testing.T, evs []Event) {
				if evs[0].Text != "boom" || !evs[0].IsError {
					t.Errorf("tool result = %+v", evs[0])
				}
			},
		},
		{
			name:  "success result",
			line:  `{"type":"result","subtype":"success","is_error":false,"result":"done","session_id":"s-1","total_cost_usd":0.0123,"num_turns":3,"duration_ms":4100,"usage":{"input_tokens":10,"output_tokens":20,"cache_read_input_tokens":300}}`,
			kinds: []EventKind{EventResult},
			check: func(t *testing.T, evs []Event) {
				r := evs[0].Result
				if r.CostUSD != 0.0123 || r.NumTurns != 3 || r.Usage.OutputTokens != 20 || r.Usage.CacheReadTokens != 300 {
					t.Errorf("result = %+v", r)
				}
				if r.IsError || r.Text != "done" {
					t.Errorf("result = %+v", r)
				}
			},
		},
		{
			name:  "legacy cost field and error subtype",
			line:  `{"type":"result","subtype":"error_max_budget_usd","cost_usd":0.05}`,
			kinds: []EventKind{EventResult},
			check: func(t *testing.T, evs []Event) {
				r := evs[0].Result
				if r.CostUSD != 0.05 || !r.IsError {
					t.Errorf("result = %+v", r)
				}
			},
		},
		{
			name:  "unknown type",
			line:  `{"type":"stream_event"}`,
			kinds: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evs, err := ParseLine([]byte(tt.line))
			if err != nil {
				t.Fatalf("ParseLine: %v", err)
			}
			var kinds []EventKind
			for _, ev := range evs {
				kinds = append(kinds, ev.Kind)
			}
			if !slices.Equal(kinds, tt.kinds) {
				t.Fatalf("kinds = %v, want %v", kinds, tt.kinds)
			}
			if tt.check != nil {
				tt.check(t, evs)
			}
		})
	}
}

func TestParseLineMalformed(t *testing.T) {
	if _, err := ParseLine([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed line")
	}
}

func TestCLIArgs(t *testing.T) {
	c := NewCLI(CLIConfig{PermissionMode: "acceptEdits"})
	args := c.Args("s-9", Request{
		Prompt:       "-classify this",
		Model:        "claude-haiku-4-5",
		MaxTurns:     1,
		MaxBudgetUSD: 0.05,
		Fork:         true,
		AllowedTools: []string{"Read", "Bash"},
	})
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--print --output-format stream-json --verbose",
		"--resume s-9 --fork-session",
		"--model claude-haiku-4-5",
		"--max-turns 1",
		"--max-budget-usd 0.05",
		"--allowedTools Read,Bash",
		"--permission-mode acceptEdits",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
	if args[len(args)-2] != "--" || args[len(args)-1] != "-classify this" {
		t.Errorf("prompt not passed positionally after --: %v", args[len(args)-2:])
	}

	fresh := strings.Join(c.Args("", Request{Prompt: "hi", Fork: true}), " ")
	if strings.Contains(fresh, "--resume") || strings.Contains(fresh, "--fork-session") {
		t.Errorf("new session should not resume or fork: %q", fresh)
	}
}

func TestStreamCollect(t *testing.T) {
	s := NewStream(0)
	go func() {
		ctx := context.Background()
		s.Emit(ctx, Event{Kind: EventText, Text: "a"})
		s.Emit(ctx, Event{Kind: EventResult, Result: &Result{CostUSD: 1}})
		s.Close(nil)
	}()
	var texts []string
	res, err := Collect(s, func(ev Event) {
		if ev.Kind == EventText {
			texts = append(texts, ev.Text)
		}
	})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if res.CostUSD != 1 || len(texts) != 1 {
		t.Errorf("res = %+v texts = %v", res, texts)
	}
}

func TestStreamWithoutResult(t *testing.T) {
	s := NewStream(1)
	s.Close(nil)
	if _, err := Collect(s, nil); !errors.Is(err, ErrNoResult) {
		t.Fatalf("err = %v, want ErrNoResult", err)
	}
}

func TestStreamErrorResult(t *testing.T) {
	s := NewStream(1)
	s.Emit(context.Background(), Event{Kind: EventResult, Result: &Result{IsError: true, Subtype: "error_max_turns"}})
	s.Close(nil)
	res, err := Collect(s, nil)
	var te *TurnError
	if !errors.As(err, &te) || te.Subtype != "error_max_turns" {
		t.Fatalf("err = %v, want TurnError", err)
	}
	if res == nil {
		t.Error("result should still be returned with the error")
	}
}
