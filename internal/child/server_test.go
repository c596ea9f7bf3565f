package child

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/literate-lsp/internal/config"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateSpawning, "spawning"},
		{StateInitializing, "initializing"},
		{StateReady, "ready"},
		{StateCrashed, "crashed"},
		{StateShutDown, "shut down"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

func TestNewServer(t *testing.T) {
	s := NewServer("rust", config.Server{Command: "rust-analyzer"}, nil)

	if s.State() != StateSpawning {
		t.Errorf("initial state = %v, want spawning", s.State())
	}
	if s.Lang() != "rust" {
		t.Errorf("Lang() = %q", s.Lang())
	}
}

func TestServer_NextID_Monotonic(t *testing.T) {
	s := NewServer("go", config.Server{Command: "gopls"}, nil)

	prev := s.NextID()
	for i := 0; i < 10; i++ {
		id := s.NextID()
		if id <= prev {
			t.Fatalf("ids not monotonic: %d after %d", id, prev)
		}
		prev = id
	}
}

func TestServer_SendQueuesBeforeReady(t *testing.T) {
	s := NewServer("go", config.Server{Command: "gopls"}, nil)

	// Spawning: messages queue in order rather than failing.
	if err := s.Send([]byte(`{"jsonrpc":"2.0","method":"a"}`)); err != nil {
		t.Fatalf("Send() while spawning = %v", err)
	}
	if err := s.Send([]byte(`{"jsonrpc":"2.0","method":"b"}`)); err != nil {
		t.Fatalf("Send() while spawning = %v", err)
	}

	s.mu.Lock()
	n := len(s.queue)
	first := string(s.queue[0])
	s.mu.Unlock()

	if n != 2 {
		t.Fatalf("queue length = %d, want 2", n)
	}
	if first != `{"jsonrpc":"2.0","method":"a"}` {
		t.Errorf("queue order broken: first = %s", first)
	}
}

func TestServer_SendAfterCrash(t *testing.T) {
	s := NewServer("go", config.Server{Command: "gopls"}, nil)
	s.state.Store(int32(StateCrashed))

	err := s.Send([]byte(`{}`))
	if !errors.Is(err, ErrChildUnavailable) {
		t.Errorf("Send() after crash = %v, want ErrChildUnavailable", err)
	}

	var ce *ChildError
	if !errors.As(err, &ce) || ce.Lang != "go" {
		t.Errorf("error should carry the language: %v", err)
	}
}

func TestServer_StartUnknownCommand(t *testing.T) {
	s := NewServer("go", config.Server{Command: "definitely-not-a-real-lsp-server"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Start(ctx, "file:///tmp")
	if err == nil {
		t.Fatal("Start() with unknown command should fail")
	}
	if s.State() != StateCrashed {
		t.Errorf("state after failed start = %v, want crashed", s.State())
	}
}

func TestChildError(t *testing.T) {
	inner := errors.New("boom")
	err := &ChildError{Lang: "rust", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("Unwrap chain broken")
	}
	if err.Error() != "child rust: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}
