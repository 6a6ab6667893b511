package platform

import (
	"errors"
	"fmt"
	"sort"
)

// Selection method names accepted in the platform config surface.
const (
	SelectDefinitionOrder = "definition-order"
	SelectRoundRobin      = "round-robin"
)

var (
	// ErrNoHostsAvailable means every host of a platform is currently
	// excluded; the submission fails terminally for the instance.
	ErrNoHostsAvailable = errors.New("submission failed: no hosts available")

	// ErrUnknownPlatform is returned for a platform name not in the
	// registry.
	ErrUnknownPlatform = errors.New("unknown platform")
)

// Platform is a named group of interchangeable hosts. The configuration is
// read-only for the selector.
type Platform struct {
	// Name identifies the platform in task definitions.
	Name string
	// Hosts is the ordered list of candidate submission hosts.
	Hosts []string
	// Selection names the host selection policy.
	Selection string
	// InstallTarget is the file-installation identity shared by the hosts.
	InstallTarget string
	// RetrieveJobLogs requests job log retrieval after completion.
	RetrieveJobLogs bool
}

func (p Platform) validate() error {
	if p.Name == "" {
		return errors.New("platform name must not be empty")
	}
	if len(p.Hosts) == 0 {
		return fmt.Errorf("platform %s: no hosts defined", p.Name)
	}
	switch p.Selection {
	case "", SelectDefinitionOrder, SelectRoundRobin:
		return nil
	default:
		return fmt.Errorf("platform %s: unknown selection method %q", p.Name, p.Selection)
	}
}

// BadHosts is the per-platform set of hosts excluded after submission
// failures. It lives for one scheduler run and is never persisted; it is
// owned and mutated only by the scheduler's control loop, so it carries no
// locking of its own.
type BadHosts struct {
	byPlatform map[string]map[string]bool
}

func NewBadHosts() *BadHosts {
	return &BadHosts{byPlatform: map[string]map[string]bool{}}
}

// MarkBad excludes host for the given platform only. The same hostname
// under another platform is unaffected.
func (b *BadHosts) MarkBad(platform, host string) {
	set, ok := b.byPlatform[platform]
	if !ok {
		set = map[string]bool{}
		b.byPlatform[platform] = set
	}
	set[host] = true
}

func (b *BadHosts) IsBad(platform, host string) bool {
	return b.byPlatform[platform][host]
}

// Clear forgets every bad host of the platform, allowing the next
// submission to retry them.
func (b *BadHosts) Clear(platform string) {
	delete(b.byPlatform, platform)
}

// Bad returns the platform's excluded hosts, sorted.
func (b *BadHosts) Bad(platform string) []string {
	set := b.byPlatform[platform]
	out := make([]string, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Registry resolves platform names and applies the per-platform host
// selection policy against the shared bad-host state. The bad-host handle
// is passed in by the scheduler core, which owns it.
type Registry struct {
	platforms map[string]Platform
	bad       *BadHosts
	cursors   map[string]int // round-robin position per platform
}

// NewRegistry validates the platform definitions and builds a registry.
func NewRegistry(platforms []Platform, bad *BadHosts) (*Registry, error) {
	r := &Registry{
		platforms: make(map[string]Platform, len(platforms)),
		bad:       bad,
		cursors:   map[string]int{},
	}
	for _, p := range platforms {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.platforms[p.Name]; dup {
			return nil, fmt.Errorf("platform %s: defined twice", p.Name)
		}
		r.platforms[p.Name] = p
	}
	return r, nil
}

// Lookup returns the platform definition by name.
func (r *Registry) Lookup(name string) (Platform, error) {
	p, ok := r.platforms[name]
	if !ok {
		return Platform{}, fmt.Errorf("%w: %s", ErrUnknownPlatform, name)
	}
	return p, nil
}

// SelectHost picks one host of the platform to attempt submission on,
// excluding currently bad hosts. Selection honors the platform's policy:
// definition order picks the first good host; round-robin rotates over the
// good hosts across calls.
func (r *Registry) SelectHost(name string) (string, error) {
	p, err := r.Lookup(name)
	if err != nil {
		return "", err
	}

	var good []string
	for _, h := range p.Hosts {
		if !r.bad.IsBad(name, h) {
			good = append(good, h)
		}
	}
	if len(good) == 0 {
		return "", fmt.Errorf("%w: platform %s", ErrNoHostsAvailable, name)
	}

	switch p.Selection {
	case SelectRoundRobin:
		host := good[r.cursors[name]%len(good)]
		r.cursors[name]++
		return host, nil
	default:
		return good[0], nil
	}
}

// SubmitFailed records a host-level submission failure: the host joins the
// platform's bad set until the platform sees a good outcome.
func (r *Registry) SubmitFailed(name, host string) {
	r.bad.MarkBad(name, host)
}

// GoodOutcome records a non-host-attributable outcome on the platform
// (successful submission and run, or a task-level failure after successful
// submission) and clears its bad set.
func (r *Registry) GoodOutcome(name string) {
	r.bad.Clear(name)
}
