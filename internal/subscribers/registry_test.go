package subscribers

import (
	"context"
	"errors"
	"testing"

	"newsbot/internal/storage"
	"newsbot/internal/transport"
)

func TestAddRemoveTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := New(storage.NewMemory())
	const id transport.ChatID = 42

	steps := []struct {
		name string
		op   func() (bool, error)
		want bool
	}{
		{"add", func() (bool, error) { return r.Add(ctx, id) }, true},
		{"add again", func() (bool, error) { return r.Add(ctx, id) }, false},
		{"remove", func() (bool, error) { return r.Remove(ctx, id) }, true},
		{"remove again", func() (bool, error) { return r.Remove(ctx, id) }, false},
		{"add after remove", func() (bool, error) { return r.Add(ctx, id) }, true},
	}
	for _, s := range steps {
		got, err := s.op()
		if err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if got != s.want {
			t.Fatalf("%s = %v, want %v", s.name, got, s.want)
		}
	}

	all, err := r.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 || all[0].ChatID != id {
		t.Fatalf("All = %+v", all)
	}
}

func TestRejectsZeroChatID(t *testing.T) {
	t.Parallel()
	r := New(storage.NewMemory())
	if _, err := r.Add(context.Background(), 0); !errors.Is(err, transport.ErrInvalidChatID) {
		t.Fatalf("Add(0) err = %v", err)
	}
	if _, err := r.Remove(context.Background(), 0); !errors.Is(err, transport.ErrInvalidChatID) {
		t.Fatalf("Remove(0) err = %v", err)
	}
}
