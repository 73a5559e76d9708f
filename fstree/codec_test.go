package fstree

import (
	"testing"
)

func TestExportEmptyRoot(t *testing.T) {
	if got := NewRoot().Export(); got != "D:~|?" {
		t.Errorf("Export() = %q, want %q", got, "D:~|?")
	}
}

func TestExportOrdering(t *testing.T) {
	root := NewRoot()
	sub := NewDir("sub", root)
	NewFile("f", root, testAddr, 5)
	NewFile("g", sub, testAddr, 6)

	// Files of a dir are emitted before its subdirectories.
	want := "D:~|F:f:10:20:5|D:sub|F:g:10:20:6|??"
	if got := root.Export(); got != want {
		t.Errorf("Export() = %q, want %q", got, want)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	cases := []string{
		"X:what|?",
		"F:orphan:1:2:3|",
		"D:~|F:broken|?",
		"D:~|F:f:a:b:c|?",
		"D:|?",
		"",
		"D:~|F:f:1:2:3",
	}
	for _, raw := range cases {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", raw)
		}
	}
}

// assertTreesEqual compares two trees structurally, checking names,
// paths, addresses and sizes node by node.
func assertTreesEqual(t *testing.T, a, b *Dir) {
	t.Helper()

	if a.Name() != b.Name() {
		t.Fatalf("dir name mismatch: %q != %q", a.Name(), b.Name())
	}
	if a.PathTo() != b.PathTo() {
		t.Fatalf("dir path mismatch: %q != %q", a.PathTo(), b.PathTo())
	}

	if len(a.Files()) != len(b.Files()) {
		t.Fatalf("%s: file count mismatch: %d != %d", a.PathTo(), len(a.Files()), len(b.Files()))
	}
	for i, fa := range a.Files() {
		fb := b.Files()[i]
		if fa.Name() != fb.Name() || fa.Addr != fb.Addr || fa.Size != fb.Size {
			t.Fatalf("file mismatch at %s: %+v != %+v", fa.PathTo(), fa, fb)
		}
		if fa.PathTo() != fb.PathTo() {
			t.Fatalf("file path mismatch: %q != %q", fa.PathTo(), fb.PathTo())
		}
	}

	if len(a.Dirs()) != len(b.Dirs()) {
		t.Fatalf("%s: dir count mismatch: %d != %d", a.PathTo(), len(a.Dirs()), len(b.Dirs()))
	}
	for i, da := range a.Dirs() {
		assertTreesEqual(t, da, b.Dirs()[i])
	}
}

func TestExportParseRoundTrip(t *testing.T) {
	root := buildSampleTree()

	parsed, err := Parse(root.Export())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	assertTreesEqual(t, root, parsed)

	// A second round trip is stable.
	again, err := Parse(parsed.Export())
	if err != nil {
		t.Fatalf("second Parse failed: %v", err)
	}
	assertTreesEqual(t, parsed, again)
}

func TestParseReconstructsParenthood(t *testing.T) {
	root, err := Parse("D:~|D:a|D:b|F:deep:1:2:3|??F:shallow:4:5:6|?")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	deep, ok := root.MoveTo("a/b/deep")
	if !ok {
		t.Fatal("a/b/deep did not resolve")
	}
	if deep.PathTo() != "~/a/b/deep" {
		t.Errorf("deep path = %q", deep.PathTo())
	}

	shallow, ok := root.MoveTo("shallow")
	if !ok {
		t.Fatal("shallow did not resolve after pop tokens")
	}
	file := shallow.(*File)
	if file.Addr.ChannelID != 4 || file.Addr.MessageID != 5 || file.Size != 6 {
		t.Errorf("shallow = %+v", file)
	}
}
