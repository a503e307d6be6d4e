package section

import (
	"errors"
	"testing"
)

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]Definition{
		{Name: "allergies"},
		{Name: "allergies"},
	})
	if err == nil {
		t.Fatal("expected error for duplicate section names")
	}
}

func TestNewRegistry_RejectsEmptyName(t *testing.T) {
	if _, err := NewRegistry([]Definition{{Name: "  "}}); err == nil {
		t.Fatal("expected error for blank section name")
	}
}

func TestResolve_UnknownSection(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.Resolve("nonsense")
	var unknown *ErrUnknownSection
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownSection, got %v", err)
	}
	if unknown.Name != "nonsense" {
		t.Errorf("expected offending name in error, got %s", unknown.Name)
	}
}

func TestResolve_KnownSection(t *testing.T) {
	r := DefaultRegistry()

	def, err := r.Resolve("allergies")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def.Name != "allergies" || def.Synthetic {
		t.Errorf("unexpected definition: %+v", def)
	}
}

func TestStoredNames_ExcludesSynthetic(t *testing.T) {
	r := DefaultRegistry()

	for _, n := range r.StoredNames() {
		if n == "insurance" || n == "claims" {
			t.Errorf("synthetic section %s must not be stored", n)
		}
	}
	if !r.Has("insurance") {
		t.Error("synthetic sections are still registered")
	}
}

func TestNames_Sorted(t *testing.T) {
	r := DefaultRegistry()
	names := r.Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}
