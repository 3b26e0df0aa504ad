package varspace

import (
	"sort"
	"sync"
	"testing"

	"github.com/crystal-mush/ospec/pkg/gamedb"
)

func TestMemoryGetSet(t *testing.T) {
	m := NewMemory()
	if _, ok := m.Get(1, "$"); ok {
		t.Fatal("fresh store has a binding")
	}

	refs := []gamedb.DBRef{3, 4}
	if err := m.Set(1, "$", refs); err != nil {
		t.Fatal(err)
	}
	refs[0] = 99

	got, ok := m.Get(1, "$")
	if !ok || len(got) != 2 || got[0] != 3 {
		t.Fatalf("Get = %v, %v (stored slice must be a copy)", got, ok)
	}
	got[1] = 42
	if again, _ := m.Get(1, "$"); again[1] != 4 {
		t.Error("Get returned the stored slice, not a copy")
	}

	if _, ok := m.Get(2, "$"); ok {
		t.Error("binding visible to another actor")
	}

	if err := m.Set(1, "them", nil); err != nil {
		t.Fatal(err)
	}
	if got, ok := m.Get(1, "them"); !ok || len(got) != 0 {
		t.Errorf("empty binding: %v, %v", got, ok)
	}

	names := m.Names(1)
	sort.Strings(names)
	if len(names) != 2 || names[0] != "$" || names[1] != "them" {
		t.Errorf("Names = %v", names)
	}
}

func TestMemoryConcurrent(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(actor gamedb.DBRef) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Set(actor, "it", []gamedb.DBRef{gamedb.DBRef(j)})
				m.Get(actor, "it")
			}
		}(gamedb.DBRef(i))
	}
	wg.Wait()
	for i := 0; i < 8; i++ {
		got, ok := m.Get(gamedb.DBRef(i), "it")
		if !ok || got[0] != 99 {
			t.Errorf("actor %d: %v, %v", i, got, ok)
		}
	}
}

func TestMemoryClearActor(t *testing.T) {
	m := NewMemory()
	m.Set(1, "$", []gamedb.DBRef{3})
	m.Set(1, "pals", []gamedb.DBRef{4})
	m.Set(2, "$", []gamedb.DBRef{5})

	if err := m.ClearActor(1); err != nil {
		t.Fatal(err)
	}
	if names := m.Names(1); len(names) != 0 {
		t.Errorf("Names(1) after clear = %v", names)
	}
	if got, ok := m.Get(2, "$"); !ok || len(got) != 1 || got[0] != 5 {
		t.Errorf("other actor's binding lost: %v, %v", got, ok)
	}
	if err := m.ClearActor(9); err != nil {
		t.Errorf("clearing an empty actor: %v", err)
	}
}
