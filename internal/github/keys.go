package github

import "fmt"

// Cache key helpers. One helper per endpoint shape, so every request site
// pairs a key with a fixed partition at compile time.

func orgKey(org string) string {
	return fmt.Sprintf("org:%s", org)
}

func repoListKey(org string) string {
	return fmt.Sprintf("repos:%s", org)
}

func openPRListKey(org string) string {
	return fmt.Sprintf("prs:open:%s", org)
}

func userKey(login string) string {
	return fmt.Sprintf("user:%s", login)
}

func workflowListKey(org, repo string) string {
	return fmt.Sprintf("workflows:%s/%s", org, repo)
}
