package snowflake

import "testing"

func TestGenerateIDMonotonic(t *testing.T) {
	prev := GenerateID()
	for i := 0; i < 1000; i++ {
		id := GenerateID()
		if id <= prev {
			t.Fatalf("id %d not greater than %d", id, prev)
		}
		prev = id
	}
}

func TestGenerateIDStringUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := GenerateIDString()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}
