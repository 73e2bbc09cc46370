package main

import (
	"strings"
	"testing"
)

func TestSubcommandsRegistered(t *testing.T) {
	want := []string{"index", "extract", "analyze", "upsert", "run", "serve", "search", "status", "config"}
	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestStepCommandsHaveSubjectFlag(t *testing.T) {
	for _, name := range []string{"index", "extract", "analyze", "upsert", "run"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil {
			t.Fatalf("Find(%q): %v", name, err)
		}
		if cmd.Flags().Lookup("subject") == nil {
			t.Errorf("%s: missing --subject flag", name)
		}
	}
}

func TestSearchCommandFlags(t *testing.T) {
	for _, flag := range []string{"subject", "type", "grade", "limit", "json"} {
		if searchCmd.Flags().Lookup(flag) == nil {
			t.Errorf("search: missing --%s flag", flag)
		}
	}
}

func TestConfigSubcommands(t *testing.T) {
	for _, name := range []string{"show", "set", "unset"} {
		cmd, _, err := rootCmd.Find([]string{"config", name})
		if err != nil || cmd.Name() != name {
			t.Errorf("config %s: not registered (%v)", name, err)
		}
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorGreen, "ok"); got != "ok" {
		t.Errorf("noColor output = %q", got)
	}

	noColor = false
	got := colorize(colorGreen, "ok")
	if !strings.HasPrefix(got, colorGreen) || !strings.HasSuffix(got, colorReset) {
		t.Errorf("colored output = %q", got)
	}
}
