package targets

import (
	"context"

	"github.com/rs/zerolog/log"
)

// GroupResolver expands a group reference into its member identifiers.
// ok is false when id is not a group (it is then kept as a concrete device).
type GroupResolver interface {
	Members(ctx context.Context, id string) (members []string, ok bool, err error)
}

// StaticGroups is a GroupResolver backed by configured group definitions.
type StaticGroups map[string][]string

func (g StaticGroups) Members(_ context.Context, id string) ([]string, bool, error) {
	members, ok := g[id]
	return members, ok, nil
}

// Chain consults each resolver in order and returns the first match.
type Chain []GroupResolver

func (c Chain) Members(ctx context.Context, id string) ([]string, bool, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		members, ok, err := r.Members(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return members, true, nil
		}
	}
	return nil, false, nil
}

// Normalizer flattens target inputs. It resolves group membership only and
// never queries device state.
type Normalizer struct {
	groups GroupResolver
}

// NewNormalizer creates a Normalizer. groups may be nil.
func NewNormalizer(groups GroupResolver) *Normalizer {
	return &Normalizer{groups: groups}
}

// Normalize returns the ordered, deduplicated identifiers for in. An empty
// input falls back to defaults. Groups are expanded breadth-first and each
// group is expanded at most once, so cyclic definitions terminate.
func (n *Normalizer) Normalize(ctx context.Context, in Input, defaults []string) ([]string, error) {
	queue := in.Items()
	if in.IsEmpty() {
		queue = FromList(defaults).Items()
	}

	seen := make(map[string]struct{}, len(queue))
	seenGroups := make(map[string]struct{})
	result := make([]string, 0, len(queue))

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id := queue[0]
		queue = queue[1:]

		if _, ok := seenGroups[id]; ok {
			continue
		}

		members, isGroup, err := n.members(ctx, id)
		if err != nil {
			// Unresolvable group lookups keep the id; the capability resolver
			// will report it as missing or unsupported.
			log.Warn().Err(err).Str("entity", id).Msg("Group lookup failed, keeping id as-is")
		}
		if isGroup {
			seenGroups[id] = struct{}{}
			queue = append(queue, FromList(members).Items()...)
			continue
		}

		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}

	return result, nil
}

func (n *Normalizer) members(ctx context.Context, id string) ([]string, bool, error) {
	if n.groups == nil {
		return nil, false, nil
	}
	return n.groups.Members(ctx, id)
}
