package storage

import (
	"errors"
	"testing"
)

func TestWorkspaceKeyLayout(t *testing.T) {
	got := WorkspaceKey("u1", "w1", "f1", "a.png")
	if got != "u1/workspaces/w1/f1/a.png" {
		t.Fatalf("WorkspaceKey = %q", got)
	}
	if err := ValidateWorkspaceKey(got, "u1"); err != nil {
		t.Errorf("ValidateWorkspaceKey: %v", err)
	}
}

func TestValidateWorkspaceKey(t *testing.T) {
	tests := []struct {
		key, user string
		ok        bool
	}{
		{"u1/workspaces/w/f/a", "u1", true},
		{"u2/workspaces/w/f/a", "u1", false},
		{"u10/workspaces/w/f/a", "u1", false},
		{"/u1/workspaces/w/f/a", "u1", false},
		{"u1/workspaces/../../u2/a", "u1", false},
		{"u1//a", "u1", false},
		{"u1/a", "", false},
		{"", "u1", false},
	}
	for _, tt := range tests {
		err := ValidateWorkspaceKey(tt.key, tt.user)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateWorkspaceKey(%q, %q) = %v, want ok=%v", tt.key, tt.user, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidKey) {
			t.Errorf("error %v does not wrap ErrInvalidKey", err)
		}
	}
}

func TestBucketContextValid(t *testing.T) {
	if !Shared.Valid() || !Workspace.Valid() || BucketContext("other").Valid() {
		t.Error("unexpected Valid result")
	}
}
