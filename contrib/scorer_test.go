package contrib

import (
	"strings"
	"testing"

	"github.com/octoreflex/siemstream/internal/model"
)

type testScorer struct {
	name string
}

func (s testScorer) Name() string { return s.name }
func (s testScorer) Severity(score float64) model.Severity {
	if score >= 5 {
		return model.SeverityCritical
	}
	return model.SeverityLow
}

func TestDefaultScorer_RegisteredByInit(t *testing.T) {
	s, err := GetScorer("default")
	if err != nil {
		t.Fatalf("GetScorer(default): %v", err)
	}
	if s.Name() != "default" {
		t.Errorf("Name() = %q, want default", s.Name())
	}
}

func TestDefaultScorer_DelegatesToSeverityFromScore(t *testing.T) {
	s, err := GetScorer("default")
	if err != nil {
		t.Fatalf("GetScorer(default): %v", err)
	}
	if got := s.Severity(9); got != model.SeverityCritical {
		t.Errorf("Severity(9) = %v, want CRITICAL", got)
	}
	if got := s.Severity(1); got != model.SeverityLow {
		t.Errorf("Severity(1) = %v, want LOW", got)
	}
}

func TestRegisterScorer_AddsNewScorer(t *testing.T) {
	RegisterScorer(testScorer{name: "scorer-test-unique-1"})
	got, err := GetScorer("scorer-test-unique-1")
	if err != nil {
		t.Fatalf("GetScorer: %v", err)
	}
	if got.Name() != "scorer-test-unique-1" {
		t.Errorf("Name() = %q", got.Name())
	}
}

func TestRegisterScorer_DuplicateNamePanics(t *testing.T) {
	RegisterScorer(testScorer{name: "scorer-test-unique-2"})
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected a panic on duplicate scorer registration")
		}
	}()
	RegisterScorer(testScorer{name: "scorer-test-unique-2"})
}

func TestGetScorer_UnknownNameErrors(t *testing.T) {
	if _, err := GetScorer("does-not-exist"); err == nil {
		t.Error("expected an error for an unregistered scorer name")
	}
}

func TestListScorers_IncludesDefaultAndRegistered(t *testing.T) {
	RegisterScorer(testScorer{name: "scorer-test-unique-3"})
	names := ListScorers()

	var hasDefault, hasCustom bool
	for _, n := range names {
		if n == "default" {
			hasDefault = true
		}
		if n == "scorer-test-unique-3" {
			hasCustom = true
		}
	}
	if !hasDefault {
		t.Errorf("ListScorers() = %v, missing default", names)
	}
	if !hasCustom {
		t.Errorf("ListScorers() = %v, missing the test-registered scorer", names)
	}
}

func TestGetScorer_ErrorListsAvailableNames(t *testing.T) {
	_, err := GetScorer("nope-" + strings.Repeat("x", 4))
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "default") {
		t.Errorf("error %q should list available scorer names including default", err.Error())
	}
}
