package common

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewULID_SortsInCreationOrder(t *testing.T) {
	prev := ""
	for i := 0; i < 200; i++ {
		id, err := NewULID()
		if err != nil {
			t.Fatalf("new ulid: %v", err)
		}
		if len(id) != ulid.EncodedSize {
			t.Fatalf("unexpected id length %d", len(id))
		}
		if id <= prev {
			t.Fatalf("ids not increasing: %q then %q", prev, id)
		}
		prev = id
	}
}
