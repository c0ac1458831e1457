//go:build !integration

package model

import (
	"testing"
)

// --- ModelProfile Tests ---

func TestDefaultProfiles(t *testing.T) {
	want := map[string]ModelProfile{
		"gpt-4o":        {Name: "gpt-4o", MaxContextTokens: 128000, MaxOutputTokens: 4096, CostPerThousandInput: 0.005, CostPerThousandOutput: 0.015},
		"gpt-4o-mini":   {Name: "gpt-4o-mini", MaxContextTokens: 128000, MaxOutputTokens: 16384, CostPerThousandInput: 0.00015, CostPerThousandOutput: 0.0006},
		"gpt-4-turbo":   {Name: "gpt-4-turbo", MaxContextTokens: 128000, MaxOutputTokens: 4096, CostPerThousandInput: 0.01, CostPerThousandOutput: 0.03},
		"gpt-3.5-turbo": {Name: "gpt-3.5-turbo", MaxContextTokens: 16385, MaxOutputTokens: 4096, CostPerThousandInput: 0.0005, CostPerThousandOutput: 0.0015},
	}

	got := DefaultProfiles()
	if len(got) != len(want) {
		t.Fatalf("expected %d profiles, got %d", len(want), len(got))
	}
	for name, w := range want {
		p, ok := got[name]
		if !ok {
			t.Errorf("missing profile %s", name)
			continue
		}
		if p != w {
			t.Errorf("profile %s: expected %+v, got %+v", name, w, p)
		}
		if err := p.Validate(); err != nil {
			t.Errorf("profile %s should be valid: %v", name, err)
		}
	}

	t.Run("copy does not alias the built-in table", func(t *testing.T) {
		cp := DefaultProfiles()
		delete(cp, "gpt-4o")
		if _, ok := LookupProfile("gpt-4o"); !ok {
			t.Error("deleting from the copy removed the built-in profile")
		}
	})
}

func TestModelProfileValidate(t *testing.T) {
	t.Run("should reject output budget equal to context", func(t *testing.T) {
		p := ModelProfile{Name: "x", MaxContextTokens: 100, MaxOutputTokens: 100}
		if err := p.Validate(); err == nil {
			t.Fatal("expected an error, got nil")
		}
	})

	t.Run("should reject non-positive limits", func(t *testing.T) {
		p := ModelProfile{Name: "x", MaxContextTokens: 0, MaxOutputTokens: 0}
		if err := p.Validate(); err == nil {
			t.Fatal("expected an error, got nil")
		}
	})
}

func TestSortedProfiles(t *testing.T) {
	out := SortedProfiles(DefaultProfiles())
	for i := 1; i < len(out); i++ {
		if out[i-1].Name > out[i].Name {
			t.Fatalf("profiles not sorted: %s before %s", out[i-1].Name, out[i].Name)
		}
	}
}

// --- ChatSession Tests ---

func TestChatSession(t *testing.T) {
	s := NewChatSession("sess-1", "user-1", ModelGPT4o)
	if s.Status != ChatSessionActive {
		t.Fatalf("expected active session, got %s", s.Status)
	}

	m := s.AddMessage("m1", RoleUser, "hello", 1)
	if m.SessionID != "sess-1" || m.ID != "m1" || m.Role != RoleUser {
		t.Errorf("unexpected stored message: %+v", m)
	}
	s.AddMessage("m2", RoleAssistant, "hi", 1)
	s.AddMessage("m3", RoleUser, "how are you", 3)

	if len(s.Messages) != 3 || s.Messages[1].ID != "m2" || s.Messages[2].Tokens != 3 {
		t.Errorf("messages not appended in order: %+v", s.Messages)
	}
}
