package types

import (
	"testing"
)

func TestParseRole(t *testing.T) {
	valid := []string{"user", "assistant", "system", "tool"}
	for _, s := range valid {
		role, err := ParseRole(s)
		if err != nil {
			t.Errorf("ParseRole(%q) error = %v", s, err)
		}
		if string(role) != s {
			t.Errorf("ParseRole(%q) = %q", s, role)
		}
	}

	invalid := []string{"", "User", "admin", "TOOL", "assistant "}
	for _, s := range invalid {
		if _, err := ParseRole(s); err == nil {
			t.Errorf("ParseRole(%q) should fail", s)
		}
	}
}

func TestParseToolCallStatus(t *testing.T) {
	for _, s := range []string{"pending", "running", "completed", "error"} {
		if _, err := ParseToolCallStatus(s); err != nil {
			t.Errorf("ParseToolCallStatus(%q) error = %v", s, err)
		}
	}
	for _, s := range []string{"", "done", "failed", "Running"} {
		if _, err := ParseToolCallStatus(s); err == nil {
			t.Errorf("ParseToolCallStatus(%q) should fail", s)
		}
	}
}

func TestParseTodoStatus(t *testing.T) {
	for _, s := range []string{"pending", "in_progress", "completed"} {
		if _, err := ParseTodoStatus(s); err != nil {
			t.Errorf("ParseTodoStatus(%q) error = %v", s, err)
		}
	}
	for _, s := range []string{"in-progress", "done", ""} {
		if _, err := ParseTodoStatus(s); err == nil {
			t.Errorf("ParseTodoStatus(%q) should fail", s)
		}
	}
}

func TestNewSession(t *testing.T) {
	s := NewSession("alpha", "/tmp/p1", SessionConfig{Provider: "zai", Model: "glm-4.6"})
	if err := ValidateSessionID(s.ID); err != nil {
		t.Errorf("NewSession produced invalid id: %v", err)
	}
	if s.CreatedAt.IsZero() || s.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
	if !s.CreatedAt.Equal(s.UpdatedAt) {
		t.Error("fresh session should have created_at == updated_at")
	}
}

func TestValidateSessionID(t *testing.T) {
	if err := ValidateSessionID("not-a-uuid"); err == nil {
		t.Error("ValidateSessionID should reject junk")
	}
	if err := ValidateSessionID("0190f6a2-0000-4000-8000-000000000000"); err != nil {
		t.Errorf("ValidateSessionID rejected valid uuid: %v", err)
	}
}

func TestNewMessageUniqueIDs(t *testing.T) {
	a := NewMessage(RoleUser, "one")
	b := NewMessage(RoleUser, "two")
	if a.ID == b.ID {
		t.Error("message ids should be unique")
	}
}
