package main

import "testing"

func TestSplitGlobals(t *testing.T) {
	args, globals, err := splitGlobals([]string{
		"--db", "/tmp/a.db", "compute", "poll-1", "--log-level=debug",
	})
	if err != nil {
		t.Fatalf("splitGlobals: %v", err)
	}
	if globals.dbPath != "/tmp/a.db" {
		t.Errorf("expected db path, got %q", globals.dbPath)
	}
	if globals.logLevel != "debug" {
		t.Errorf("expected log level debug, got %q", globals.logLevel)
	}
	if len(args) != 2 || args[0] != "compute" || args[1] != "poll-1" {
		t.Errorf("unexpected remaining args: %v", args)
	}
}

func TestSplitGlobalsMissingValue(t *testing.T) {
	if _, _, err := splitGlobals([]string{"compute", "--db"}); err == nil {
		t.Fatal("expected error for --db without a value")
	}
}

func TestSinglePollArg(t *testing.T) {
	if _, err := singlePollArg(nil, "compute"); err == nil {
		t.Error("expected usage error for missing poll id")
	}
	if _, err := singlePollArg([]string{"a", "b"}, "compute"); err == nil {
		t.Error("expected usage error for extra args")
	}
	pollID, err := singlePollArg([]string{"poll-1"}, "compute")
	if err != nil || pollID != "poll-1" {
		t.Errorf("unexpected result: %q, %v", pollID, err)
	}
}
