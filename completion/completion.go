// Package completion derives a cached "profile complete" signal from the
// cached profile without issuing network requests of its own.
package completion

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Keksclan/edgecache/store"
)

// Storage keys.
const (
	ProfileKey = "profile"
	StatusKey  = "profile-completion"
)

// ProfileTTL bounds how long a cached profile feeds the computation.
const ProfileTTL = 30 * time.Minute

// Profile is the subset of the user profile the aggregator inspects. Nil
// pointers mean the field was never set.
type Profile struct {
	ID        string  `json:"id"`
	FullName  *string `json:"full_name,omitempty"`
	Bio       *string `json:"bio"`
	ResumeURL *string `json:"resume_url"`
}

// Requirement names a profile field and how to extract it.
type Requirement struct {
	Name  string
	Value func(Profile) *string
}

// DefaultRequirements are the fields a profile needs to count as complete.
func DefaultRequirements() []Requirement {
	return []Requirement{
		{Name: "bio", Value: func(p Profile) *string { return p.Bio }},
		{Name: "resume", Value: func(p Profile) *string { return p.ResumeURL }},
	}
}

// Status is the derived signal.
type Status struct {
	Fields      map[string]bool `json:"fields"`
	IsComplete  bool            `json:"isComplete"`
	LastChecked time.Time       `json:"lastChecked"`
}

// Has reports whether the named field is present.
func (s Status) Has(field string) bool {
	return s.Fields[field]
}

// Compute evaluates reqs against p. A nil profile has no fields.
func Compute(p *Profile, reqs []Requirement, now time.Time) Status {
	st := Status{
		Fields:      make(map[string]bool, len(reqs)),
		IsComplete:  len(reqs) > 0,
		LastChecked: now,
	}
	for _, r := range reqs {
		present := false
		if p != nil {
			v := r.Value(*p)
			present = v != nil && strings.TrimSpace(*v) != ""
		}
		st.Fields[r.Name] = present
		st.IsComplete = st.IsComplete && present
	}
	return st
}

// ProfileFetcher is the external collaborator that loads the profile and
// writes it into the store under [ProfileKey].
type ProfileFetcher interface {
	Refetch(ctx context.Context, owner string) error
}

// FetcherFunc adapts a function to [ProfileFetcher].
type FetcherFunc func(ctx context.Context, owner string) error

// Refetch calls f.
func (f FetcherFunc) Refetch(ctx context.Context, owner string) error { return f(ctx, owner) }

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithRequirements replaces [DefaultRequirements].
func WithRequirements(reqs ...Requirement) Option {
	return func(a *Aggregator) { a.reqs = reqs }
}

// WithOwner sets the initial owner key.
func WithOwner(owner string) Option {
	return func(a *Aggregator) { a.owner = owner }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// Aggregator keeps the derived status in step with the cached profile.
// It is safe for concurrent use.
type Aggregator struct {
	store    *store.Store
	profiles *store.Typed[Profile]
	statuses *store.Typed[Status]
	fetcher  ProfileFetcher
	reqs     []Requirement
	logger   *slog.Logger

	mu    sync.RWMutex
	owner string

	cancel func()
}

// New creates an Aggregator over s and subscribes it to profile changes.
// Call Close to unsubscribe.
func New(s *store.Store, fetcher ProfileFetcher, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:    s,
		profiles: store.NewTyped[Profile](s, ProfileKey, ProfileTTL),
		statuses: store.NewTyped[Status](s, StatusKey, store.CompletionStatusTTL),
		fetcher:  fetcher,
		reqs:     DefaultRequirements(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	a.cancel = a.profiles.Subscribe(a.onProfileChange)
	return a
}

// Profiles exposes the profile cache slot the aggregator watches.
func (a *Aggregator) Profiles() *store.Typed[Profile] {
	return a.profiles
}

// Owner returns the current owner key.
func (a *Aggregator) Owner() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.owner
}

// SetOwner switches identity. Entries written for the previous owner are
// no longer visible.
func (a *Aggregator) SetOwner(owner string) {
	a.mu.Lock()
	a.owner = owner
	a.mu.Unlock()
}

// Current returns the last known status. When none is cached it is computed
// from the cached profile, if any, and cached.
func (a *Aggregator) Current(ctx context.Context) Status {
	owner := a.Owner()
	if e, ok := a.statuses.Read(ctx, owner); ok {
		return e.Data
	}
	p, ok := a.profiles.Read(ctx, owner)
	if !ok {
		return Compute(nil, a.reqs, a.store.Now())
	}
	return a.recompute(ctx, &p.Data, owner)
}

// Peek is Current without side effects: a status computed from the cached
// profile is returned but not cached.
func (a *Aggregator) Peek(ctx context.Context) Status {
	owner := a.Owner()
	if e, ok := a.statuses.Read(ctx, owner); ok {
		return e.Data
	}
	p, ok := a.profiles.Read(ctx, owner)
	if !ok {
		return Compute(nil, a.reqs, a.store.Now())
	}
	return Compute(&p.Data, a.reqs, a.store.Now())
}

// RefetchStatus drops the derived status and asks the fetcher to reload the
// profile. The status is recomputed when the new profile is written.
func (a *Aggregator) RefetchStatus(ctx context.Context) error {
	owner := a.Owner()
	a.statuses.Invalidate(ctx)
	if a.fetcher == nil {
		return nil
	}
	return a.fetcher.Refetch(ctx, owner)
}

// Close stops watching the profile.
func (a *Aggregator) Close() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Aggregator) onProfileChange(c store.Change) {
	ctx := context.Background()
	owner := a.Owner()

	if c.Invalidated {
		a.statuses.Invalidate(ctx)
		return
	}
	if c.OwnerKey != owner {
		return
	}
	p, ok := a.profiles.Read(ctx, owner)
	if !ok {
		return
	}
	st := a.recompute(ctx, &p.Data, owner)
	a.logger.Debug("profile completion recomputed", "complete", st.IsComplete)
}

func (a *Aggregator) recompute(ctx context.Context, p *Profile, owner string) Status {
	st := Compute(p, a.reqs, a.store.Now())
	a.statuses.Write(ctx, st, owner)
	return st
}
