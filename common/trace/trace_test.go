package trace

import (
	"context"
	"strings"
	"testing"
)

func TestNewID_Format(t *testing.T) {
	id := NewID()
	if !strings.HasPrefix(id, "t_") {
		t.Fatalf("NewID() = %q, want t_ prefix", id)
	}
	if strings.Contains(id, "-") {
		t.Errorf("NewID() = %q, should not contain dashes", id)
	}
	if len(id) != 34 {
		t.Errorf("len(NewID()) = %d, want 34", len(id))
	}
}

func TestEnsure_KeepsExisting(t *testing.T) {
	ctx := WithID(context.Background(), "t_fixed")
	got, id := Ensure(ctx)
	if id != "t_fixed" || FromContext(got) != "t_fixed" {
		t.Errorf("Ensure replaced existing id: %q", id)
	}
}

func TestEnsure_AddsMissing(t *testing.T) {
	ctx, id := Ensure(context.Background())
	if id == "" || FromContext(ctx) != id {
		t.Errorf("Ensure did not attach id, got %q / %q", id, FromContext(ctx))
	}
}
