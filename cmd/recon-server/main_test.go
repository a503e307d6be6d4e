package main

import "testing"

func TestBuildRegistry_Defaults(t *testing.T) {
	r, err := buildRegistry(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Has("allergies") {
		t.Error("expected default registry to include allergies")
	}
}

func TestBuildRegistry_FromConfig(t *testing.T) {
	r, err := buildRegistry([]string{"allergies", "medications"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Has("medications") || r.Has("vitals") {
		t.Error("expected registry limited to configured sections")
	}
}

func TestBuildRegistry_RejectsDuplicates(t *testing.T) {
	if _, err := buildRegistry([]string{"allergies", "allergies"}); err == nil {
		t.Fatal("expected error for duplicate section names")
	}
}
