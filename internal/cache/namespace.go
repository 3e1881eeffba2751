package cache

import "context"

// Namespace is a view of the Manager whose keys are prefixed with its name and
// whose entries carry the tag ns:<name>, so producers share one cache without
// colliding and can be invalidated as a group.
type Namespace struct {
	m    *Manager
	name string
}

// Namespace returns the view for name.
func (m *Manager) Namespace(name string) *Namespace {
	return &Namespace{m: m, name: name}
}

// Name returns the namespace name.
func (n *Namespace) Name() string {
	return n.name
}

// Key returns the full cache key for key.
func (n *Namespace) Key(key string) string {
	return n.name + ":" + key
}

// Tag returns the tag attached to every entry in the namespace.
func (n *Namespace) Tag() string {
	return "ns:" + n.name
}

func (n *Namespace) Get(ctx context.Context, key string) (any, bool) {
	return n.m.Get(ctx, n.Key(key))
}

func (n *Namespace) Set(ctx context.Context, key string, value any, opts ...Option) bool {
	return n.m.Set(ctx, n.Key(key), value, append(opts[:len(opts):len(opts)], WithTags(n.Tag()))...)
}

func (n *Namespace) GetOrCompute(ctx context.Context, key string, fn ComputeFunc, opts ...Option) (any, error) {
	return n.m.GetOrCompute(ctx, n.Key(key), fn, append(opts[:len(opts):len(opts)], WithTags(n.Tag()))...)
}

// Invalidate removes every in-memory entry of the namespace.
func (n *Namespace) Invalidate(ctx context.Context) int {
	return n.m.InvalidateByTag(ctx, n.Tag())
}
