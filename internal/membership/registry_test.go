package membership

import (
	"context"
	"testing"

	"github.com/atrium-loyalty/atrium-loyalty/internal/auth"
)

type fakeProvider struct {
	verifyResult bool
	savedUsers   []int64
}

func (f *fakeProvider) Verify(ctx context.Context, snapshot map[string]any, hints auth.MembershipHints) (bool, error) {
	return f.verifyResult, nil
}

func (f *fakeProvider) Save(ctx context.Context, userID int64, snapshot map[string]any) error {
	f.savedUsers = append(f.savedUsers, userID)
	return nil
}

func TestRegistryDispatchesByPluginID(t *testing.T) {
	registry := NewRegistry()
	accept := &fakeProvider{verifyResult: true}
	reject := &fakeProvider{verifyResult: false}
	registry.Register("accepting.plugin", accept)
	registry.Register("rejecting.plugin", reject)

	ctx := context.Background()
	ok, err := registry.Verify(ctx, "accepting.plugin", map[string]any{}, auth.MembershipHints{})
	if err != nil || !ok {
		t.Fatalf("accepting plugin: ok=%v err=%v", ok, err)
	}
	ok, err = registry.Verify(ctx, "rejecting.plugin", map[string]any{}, auth.MembershipHints{})
	if err != nil || ok {
		t.Fatalf("rejecting plugin: ok=%v err=%v", ok, err)
	}

	if err := registry.Save(ctx, "accepting.plugin", 42, map[string]any{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(accept.savedUsers) != 1 || accept.savedUsers[0] != 42 {
		t.Fatalf("save dispatched to wrong provider: %v", accept.savedUsers)
	}
}

func TestRegistryUnknownPluginFails(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Verify(context.Background(), "missing.plugin", nil, auth.MembershipHints{}); err == nil {
		t.Fatal("expected error for unknown plugin")
	}
	if err := registry.Save(context.Background(), "missing.plugin", 1, nil); err == nil {
		t.Fatal("expected error for unknown plugin")
	}
}

func TestDirectoryHintMatching(t *testing.T) {
	record := &member{FirstName: "Grace", LastName: "Hopper", Email: "grace@example.org"}

	cases := []struct {
		name  string
		hints auth.MembershipHints
		want  bool
	}{
		{"full name match", auth.MembershipHints{FirstName: "grace", LastName: "HOPPER"}, true},
		{"full name mismatch", auth.MembershipHints{FirstName: "Grace", LastName: "Jones"}, false},
		{"email match", auth.MembershipHints{Email: "Grace@Example.org"}, true},
		{"email mismatch", auth.MembershipHints{Email: "other@example.org"}, false},
		{"first name alone is not enough", auth.MembershipHints{FirstName: "Grace"}, false},
		{"no hints", auth.MembershipHints{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := matchHints(record, tc.hints); got != tc.want {
				t.Fatalf("matchHints = %v, want %v", got, tc.want)
			}
		})
	}
}
