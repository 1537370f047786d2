package bridge

import "testing"

func TestResolveDisplaySource(t *testing.T) {
	displays := []Display{
		{ID: "d0"},
		{ID: "d1"},
	}
	sources := []Source{
		{ID: "win-a", Kind: SourceWindow},
		{ID: "screen-0", Kind: SourceScreen, DisplayID: "d0"},
		{ID: "win-b", Kind: SourceWindow},
		{ID: "screen-1", Kind: SourceScreen, DisplayID: "d1"},
	}

	src, err := ResolveDisplaySource(sources, displays, "d1")
	if err != nil {
		t.Fatalf("ResolveDisplaySource() error: %v", err)
	}
	if src.ID != "screen-1" {
		t.Errorf("resolved %q, want screen-1", src.ID)
	}
}

func TestResolveDisplaySourcePositional(t *testing.T) {
	// Correspondence is positional, not by DisplayID field: the second
	// display maps to the second screen source whatever it claims.
	displays := []Display{{ID: "d0"}, {ID: "d1"}}
	sources := []Source{
		{ID: "screen-x", Kind: SourceScreen},
		{ID: "screen-y", Kind: SourceScreen},
	}

	src, err := ResolveDisplaySource(sources, displays, "d1")
	if err != nil {
		t.Fatalf("ResolveDisplaySource() error: %v", err)
	}
	if src.ID != "screen-y" {
		t.Errorf("resolved %q, want screen-y", src.ID)
	}
}

func TestResolveDisplaySourceErrors(t *testing.T) {
	displays := []Display{{ID: "d0"}, {ID: "d1"}}
	sources := []Source{{ID: "screen-0", Kind: SourceScreen}}

	if _, err := ResolveDisplaySource(sources, displays, "nope"); err == nil {
		t.Error("unknown display must fail")
	}
	if _, err := ResolveDisplaySource(sources, displays, "d1"); err == nil {
		t.Error("missing screen source at display index must fail")
	}
}

func TestCountWindows(t *testing.T) {
	sources := []Source{
		{Kind: SourceScreen},
		{Kind: SourceWindow},
		{Kind: SourceWindow},
	}
	if got := CountWindows(sources); got != 2 {
		t.Errorf("CountWindows() = %d, want 2", got)
	}
	if got := CountWindows(nil); got != 0 {
		t.Errorf("CountWindows(nil) = %d, want 0", got)
	}
}
