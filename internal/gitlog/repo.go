package gitlog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/rohankatakam/gitpulse/internal/errors"
)

// RepoInfo describes the repository a source reads from
type RepoInfo struct {
	Root   string `json:"root"`
	Branch string `json:"branch,omitempty"`
	Head   string `json:"head,omitempty"`
	Origin string `json:"origin,omitempty"`
	Owner  string `json:"owner,omitempty"`
	Name   string `json:"name,omitempty"`
}

// DetectRepo checks that path is inside a git repository and reports its
// root and HEAD. A repository without commits is valid and has no Head.
func DetectRepo(path string) (*RepoInfo, error) {
	if path == "" {
		path = "."
	}
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, errors.InvalidConfigf("repo", "%s is not a git repository: %v", path, err)
	}

	info := &RepoInfo{Root: path}
	if wt, err := repo.Worktree(); err == nil {
		info.Root = wt.Filesystem.Root()
	}
	if head, err := repo.Head(); err == nil {
		info.Head = head.Hash().String()
		if head.Name().IsBranch() {
			info.Branch = head.Name().Short()
		}
	}
	if remote, err := repo.Remote("origin"); err == nil && len(remote.Config().URLs) > 0 {
		info.Origin = remote.Config().URLs[0]
		info.Owner, info.Name, _ = ParseRemoteURL(info.Origin)
	}
	return info, nil
}

var remotePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://[^/]+/([^/]+)/([^/]+)$`),
	regexp.MustCompile(`^ssh://(?:[^@/]+@)?[^/]+/([^/]+)/([^/]+)$`),
	regexp.MustCompile(`^[^@/]+@[^:]+:([^/]+)/([^/]+)$`),
	regexp.MustCompile(`^git://[^/]+/([^/]+)/([^/]+)$`),
}

// ParseRemoteURL extracts owner and repository name from an HTTPS, SSH,
// scp-style or git protocol remote URL.
func ParseRemoteURL(remoteURL string) (owner, name string, err error) {
	u := strings.TrimSuffix(strings.TrimSpace(remoteURL), "/")
	u = strings.TrimSuffix(u, ".git")
	for _, re := range remotePatterns {
		if m := re.FindStringSubmatch(u); len(m) == 3 {
			return m[1], m[2], nil
		}
	}
	return "", "", fmt.Errorf("unrecognized git URL format: %s", remoteURL)
}

// Label is a short name for logs and report diagnostics
func (r *RepoInfo) Label() string {
	if r.Owner != "" && r.Name != "" {
		return r.Owner + "/" + r.Name
	}
	return r.Root
}
