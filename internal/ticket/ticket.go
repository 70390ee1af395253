// Package ticket provides a provider-agnostic interface for fetching work
// items from external issue trackers (GitHub, Linear, etc.)
//
// The workflow core consumes only the normalized Ticket record; everything
// provider-specific stays behind the Source interface.
package ticket

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Ticket is the normalized work-item record all providers return.
type Ticket struct {
	// ID is the tracker-native identifier (e.g. "142" or "PROJ-142").
	ID string `json:"id"`

	// Title is the work item's short summary.
	Title string `json:"title"`

	// Description is the full body text, used as planning context.
	Description string `json:"description"`

	// URL is the canonical link to the work item, empty for offline tickets.
	URL string `json:"url,omitempty"`

	// BranchNameHint is a slug derived from the title, suitable as the
	// trailing segment of a branch name.
	BranchNameHint string `json:"branch_name_hint,omitempty"`
}

// Source fetches a normalized ticket from an external tracker.
type Source interface {
	// Fetch resolves a ticket reference (URL, owner/repo#N, or bare id)
	// into a Ticket record.
	Fetch(ctx context.Context, ref string) (*Ticket, error)
}

// Provider represents an issue tracking service
type Provider string

const (
	ProviderGitHub  Provider = "github"
	ProviderLinear  Provider = "linear"
	ProviderUnknown Provider = "unknown"
)

// Reference parsing regexes
var (
	gitHubURLRegex   = regexp.MustCompile(`github\.com/([^/]+)/([^/]+)/issues/(\d+)$`)
	gitHubShortRegex = regexp.MustCompile(`^([^/\s]+)/([^/#\s]+)#(\d+)$`)
	linearIDRegex    = regexp.MustCompile(`^[A-Z][A-Z0-9]*-\d+$`)
	slugStripRegex   = regexp.MustCompile(`[^a-z0-9]+`)
)

// DetectProvider determines the issue provider from a ticket reference.
// Bare identifiers that match no provider return ProviderUnknown with a nil
// error; callers fall back to an offline ticket.
func DetectProvider(ref string) (Provider, error) {
	if strings.Contains(ref, "://") {
		parsed, err := url.Parse(ref)
		if err != nil {
			return ProviderUnknown, fmt.Errorf("invalid URL: %w", err)
		}
		host := strings.ToLower(parsed.Host)
		switch {
		case strings.Contains(host, "github.com"):
			return ProviderGitHub, nil
		case strings.Contains(host, "linear.app"):
			return ProviderLinear, nil
		default:
			return ProviderUnknown, nil
		}
	}

	if gitHubShortRegex.MatchString(ref) {
		return ProviderGitHub, nil
	}
	if linearIDRegex.MatchString(ref) {
		return ProviderLinear, nil
	}
	return ProviderUnknown, nil
}

// Slug converts a title into a branch-name-safe fragment: lowercase,
// non-alphanumerics collapsed to single hyphens, truncated to 40 characters.
func Slug(title string) string {
	s := slugStripRegex.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if len(s) > 40 {
		s = s[:40]
		s = strings.TrimRight(s, "-")
	}
	return s
}

// -----------------------------------------------------------------------------
// Offline source
// -----------------------------------------------------------------------------

// OfflineSource builds a ticket from the bare reference without contacting
// any tracker. It backs runs where the work item lives outside a supported
// provider (or only a ticket id is known).
type OfflineSource struct{}

// NewOfflineSource creates an offline ticket source.
func NewOfflineSource() *OfflineSource {
	return &OfflineSource{}
}

// Fetch returns a minimal ticket whose id and title are both the reference.
func (s *OfflineSource) Fetch(_ context.Context, ref string) (*Ticket, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("empty ticket reference")
	}
	return &Ticket{
		ID:             ref,
		Title:          ref,
		BranchNameHint: Slug(ref),
	}, nil
}

var _ Source = (*OfflineSource)(nil)
