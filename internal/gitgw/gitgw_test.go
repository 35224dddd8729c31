package gitgw

import "testing"

func TestDiffLineCounts(t *testing.T) {
	diff := "diff --git a/f.go b/f.go\n" +
		"--- a/f.go\n" +
		"+++ b/f.go\n" +
		"@@ -1,2 +1,3 @@\n" +
		" unchanged\n" +
		"-removed line\n" +
		"+added line one\n" +
		"+added line two\n"

	added, removed := DiffLineCounts(diff)
	if added != 2 {
		t.Fatalf("expected 2 added lines, got %d", added)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed line, got %d", removed)
	}
}

func TestNormalizeRepoURL(t *testing.T) {
	cases := map[string]string{
		"git@github.com:agentty-dev/agentty.git":      "https://github.com/agentty-dev/agentty",
		"ssh://git@github.com/agentty-dev/agentty.git": "https://github.com/agentty-dev/agentty",
		"https://github.com/agentty-dev/agentty":       "https://github.com/agentty-dev/agentty",
	}
	for in, want := range cases {
		if got := NormalizeRepoURL(in); got != want {
			t.Errorf("NormalizeRepoURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOwnerRepo(t *testing.T) {
	owner, repo, ok := OwnerRepo("https://github.com/agentty-dev/agentty")
	if !ok {
		t.Fatalf("expected ok")
	}
	if owner != "agentty-dev" || repo != "agentty" {
		t.Fatalf("got owner=%q repo=%q", owner, repo)
	}

	if _, _, ok := OwnerRepo("not a url"); ok {
		t.Fatalf("expected ok=false for malformed url")
	}
}
