package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefDomain(t *testing.T) {
	tests := []struct {
		ref    Ref
		domain string
		object string
	}{
		{"light.shelf_1", "light", "shelf_1"},
		{"switch.porch", "switch", "porch"},
		{"group.shelves.all", "group", "shelves.all"},
		{"noprefix", "", "noprefix"},
		{".leading", "", "leading"},
	}

	for _, tt := range tests {
		t.Run(string(tt.ref), func(t *testing.T) {
			assert.Equal(t, tt.domain, tt.ref.Domain())
			assert.Equal(t, tt.object, tt.ref.ObjectID())
		})
	}
}

func TestStateUsable(t *testing.T) {
	assert.False(t, State{}.Usable())
	assert.False(t, State{Exists: true, Value: StateUnavailable}.Usable())
	assert.False(t, State{Exists: true, Value: StateUnknown}.Usable())
	assert.False(t, State{Exists: true}.Usable())
	assert.True(t, State{Exists: true, Value: StateOff}.Usable())
}

func TestAttrStrings(t *testing.T) {
	assert.Nil(t, AttrStrings(nil))
	assert.Equal(t, []string{"rgb"}, AttrStrings("rgb"))
	assert.Equal(t, []string{"rgb", "xy"}, AttrStrings([]any{"rgb", 5, "xy"}))
	assert.Equal(t, []string{"hs"}, AttrStrings([]string{"hs"}))
}

type slowTransport struct{ Transport }

func (slowTransport) Command(ctx context.Context, domain, action string, targets []string, params map[string]any) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestLimitedAppliesTimeout(t *testing.T) {
	l := NewLimited(slowTransport{}, 20*time.Millisecond, 100)

	start := time.Now()
	err := l.Command(context.Background(), "light", "turn_on", []string{"light.a"}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLimitedMembersWithoutLister(t *testing.T) {
	l := NewLimited(slowTransport{}, 0, 0)
	members, ok, err := l.Members(context.Background(), "group.x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, members)
}
