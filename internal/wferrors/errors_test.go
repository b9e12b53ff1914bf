package wferrors

import (
	"errors"
	"testing"

	"workflowcore/internal/position"
)

func TestNewWithFormat(t *testing.T) {
	pos := position.Root.AppendToken("do").AppendIndex(1)
	we := New(KindValidation, pos, nil, "field %s is required", "amount")

	if we.Type != typeURIs[KindValidation].URI {
		t.Errorf("Type = %q, want %q", we.Type, typeURIs[KindValidation].URI)
	}
	if we.Status != 400 {
		t.Errorf("Status = %d, want 400", we.Status)
	}
	if we.Detail != "field amount is required" {
		t.Errorf("Detail = %q, want %q", we.Detail, "field amount is required")
	}
	if we.Instance != pos {
		t.Errorf("Instance = %q, want %q", we.Instance, pos)
	}
}

func TestNewWithCause(t *testing.T) {
	cause := errors.New("connection refused")
	we := New(KindCommunication, position.Root, cause, "")

	if we.Detail != "connection refused" {
		t.Errorf("Detail = %q, want cause's message", we.Detail)
	}
	if !errors.Is(we, cause) {
		t.Error("errors.Is(we, cause) = false, want true; Unwrap should expose the cause")
	}
}

func TestErrorString(t *testing.T) {
	we := New(KindTimeout, position.Position("/do/0"), nil, "deadline exceeded")
	msg := we.Error()
	if msg == "" {
		t.Fatal("Error() returned empty string")
	}
}

func TestMatches(t *testing.T) {
	we := New(KindValidation, position.Position("/do/0/validateInput"), nil, "bad input")

	tests := []struct {
		name         string
		typeGlob     string
		status       int
		instanceGlob string
		want         bool
	}{
		{"exact type match", typeURIs[KindValidation].URI, 0, "", true},
		{"wildcard type", "*", 0, "", true},
		{"prefix wildcard type", "https://serverlessworkflow.io/spec/1.0.0/errors/*", 0, "", true},
		{"wrong type", typeURIs[KindTimeout].URI, 0, "", false},
		{"matching status", "", 400, "", true},
		{"wrong status", "", 500, "", false},
		{"matching instance prefix", "", 0, "/do/0/*", true},
		{"non-matching instance", "", 0, "/do/1/*", false},
		{"all empty matches anything", "", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := we.Matches(tt.typeGlob, tt.status, tt.instanceGlob); got != tt.want {
				t.Errorf("Matches(%q, %d, %q) = %v, want %v", tt.typeGlob, tt.status, tt.instanceGlob, got, tt.want)
			}
		})
	}
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"*", "anything", true},
		{"foo*", "foobar", true},
		{"foo*", "bar", false},
		{"exact", "exact", true},
		{"exact", "different", false},
	}

	for _, tt := range tests {
		if got := globMatch(tt.pattern, tt.value); got != tt.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
		}
	}
}
