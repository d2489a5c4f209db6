package redisx

import (
	"testing"

	"github.com/google/uuid"
)

func TestAlphaKeyIsStablePerUser(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	if alphaKey(id) != alphaKey(id) {
		t.Fatalf("alphaKey should be deterministic for the same user id")
	}
	if alphaKey(id) == alphaKey(uuid.New()) {
		t.Fatalf("alphaKey should differ across users")
	}
}

func TestAlphaCacheNilReceiverIsSafe(t *testing.T) {
	t.Parallel()
	var c *AlphaCache
	if v, ok := c.Get(nil, uuid.New()); ok || v != nil {
		t.Fatalf("nil *AlphaCache.Get should report a miss, got v=%v ok=%v", v, ok)
	}
	c.Set(nil, uuid.New(), nil) // must not panic
}

func TestAlphaCacheNilUserIsSafe(t *testing.T) {
	t.Parallel()
	c := &AlphaCache{}
	if v, ok := c.Get(nil, uuid.Nil); ok || v != nil {
		t.Fatalf("nil user id should report a miss, got v=%v ok=%v", v, ok)
	}
}
