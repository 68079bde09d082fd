package idgen

import (
	"strings"
	"testing"
)

func TestGenerateOrderIDIsShortAndUnique(t *testing.T) {
	if err := Init(3); err != nil {
		t.Fatalf("init: %v", err)
	}

	seen := make(map[string]struct{}, 2000)
	for i := 0; i < 2000; i++ {
		id := GenerateOrderID()
		if !strings.HasPrefix(id, "VP") {
			t.Fatalf("missing prefix: %s", id)
		}
		if len(id) < 4 || len(id) > 20 {
			t.Fatalf("order id length out of gateway bounds: %s", id)
		}
		if strings.ToUpper(id) != id {
			t.Fatalf("order id must be upper case: %s", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate order id: %s", id)
		}
		seen[id] = struct{}{}
	}
}
