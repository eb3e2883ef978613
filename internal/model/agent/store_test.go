package agent

import "testing"

func TestRoute(t *testing.T) {
	store := NewMemoryStore(Seed())

	if got := store.Route("Is an overnight camp safe for a 7 year old?"); got.ID != EducatorID {
		t.Fatalf("expected educator, got %s", got.ID)
	}
	if got := store.Route("thanks, that helps"); got.ID != ConciergeID {
		t.Fatalf("expected concierge, got %s", got.ID)
	}
}

func TestListReturnsCopy(t *testing.T) {
	store := NewMemoryStore(Seed())
	list := store.List()
	list[0].Name = "changed"

	got, ok := store.FindByID(ConciergeID)
	if !ok {
		t.Fatal("concierge missing")
	}
	if got.Name == "changed" {
		t.Fatal("List leaked internal slice")
	}
}
