package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"ticketflow/internal/logging"
)

// GitHubSource fetches issues through the gh CLI, which handles auth and
// host selection on its own.
type GitHubSource struct {
	logger *logging.Logger
}

// NewGitHubSource creates a gh-backed ticket source.
func NewGitHubSource(logger *logging.Logger) *GitHubSource {
	return &GitHubSource{logger: logger}
}

// ghIssue mirrors the fields requested from `gh issue view --json`.
type ghIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url"`
}

// Fetch resolves a GitHub issue reference. Accepted forms:
// a full issue URL, or the short form owner/repo#123.
func (s *GitHubSource) Fetch(ctx context.Context, ref string) (*Ticket, error) {
	repo, number, err := parseGitHubRef(ref)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("fetching GitHub issue", "repo", repo, "issue", number)

	cmd := exec.CommandContext(ctx, "gh", "issue", "view", strconv.Itoa(number),
		"--repo", repo, "--json", "number,title,body,url")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issue %s#%d: %w", repo, number, err)
	}

	var issue ghIssue
	if err := json.Unmarshal(output, &issue); err != nil {
		return nil, fmt.Errorf("failed to decode gh output for %s#%d: %w", repo, number, err)
	}

	return &Ticket{
		ID:             strconv.Itoa(issue.Number),
		Title:          issue.Title,
		Description:    issue.Body,
		URL:            issue.URL,
		BranchNameHint: Slug(issue.Title),
	}, nil
}

// parseGitHubRef extracts owner/repo and issue number from a reference.
func parseGitHubRef(ref string) (repo string, number int, err error) {
	if m := gitHubURLRegex.FindStringSubmatch(ref); len(m) == 4 {
		n, convErr := strconv.Atoi(m[3])
		if convErr != nil {
			return "", 0, fmt.Errorf("invalid issue number in %q", ref)
		}
		return m[1] + "/" + m[2], n, nil
	}
	if m := gitHubShortRegex.FindStringSubmatch(ref); len(m) == 4 {
		n, convErr := strconv.Atoi(m[3])
		if convErr != nil {
			return "", 0, fmt.Errorf("invalid issue number in %q", ref)
		}
		return m[1] + "/" + m[2], n, nil
	}
	return "", 0, fmt.Errorf("unrecognized GitHub issue reference: %q", ref)
}

// ForReference selects a source for the given reference: GitHub references
// get the gh-backed source, everything else falls back to offline.
func ForReference(ref string, logger *logging.Logger) Source {
	provider, err := DetectProvider(ref)
	if err != nil || provider != ProviderGitHub {
		return NewOfflineSource()
	}
	return NewGitHubSource(logger)
}

var _ Source = (*GitHubSource)(nil)
