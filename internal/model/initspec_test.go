package model

import "testing"

func TestParseInitSpecEmptyDefaultsToRandom(t *testing.T) {
	kind, idx, err := ParseInitSpec("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindRandom || idx != 0 {
		t.Fatalf("expected Random/0, got %s/%d", kind, idx)
	}
}

func TestParseInitSpecStaticWithIndex(t *testing.T) {
	kind, idx, err := ParseInitSpec("Static,2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindStatic || idx != 2 {
		t.Fatalf("expected Static/2, got %s/%d", kind, idx)
	}
}

func TestParseInitSpecUnrecognizedKind(t *testing.T) {
	if _, _, err := ParseInitSpec("NotAKind"); err == nil {
		t.Fatalf("expected error for unrecognized kind")
	}
}

func TestParseInitSpecDecisionTreeIgnoresArg(t *testing.T) {
	kind, idx, err := ParseInitSpec("DecisionTree,ignored")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindDecisionTree || idx != 0 {
		t.Fatalf("expected DecisionTree/0, got %s/%d", kind, idx)
	}
}
