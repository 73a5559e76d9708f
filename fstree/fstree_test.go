package fstree

import (
	"strings"
	"testing"

	"github.com/7hebel/drivecord-server/memory"
)

var testAddr = memory.Address{ChannelID: 10, MessageID: 20}

func TestIsValidName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"notes.txt", true},
		{"a", true},
		{strings.Repeat("x", MaxNameLen), true},
		{"", false},
		{strings.Repeat("x", MaxNameLen+1), false},
		{"with space", false},
		{"semi:colon", false},
		{"sla/sh", false},
		{"back\\slash", false},
		{"que?stion", false},
		{"st*ar", false},
		{"pi|pe", false},
		{"qu\"ote", false},
		{"ho~me", false},
		{"tick`", false},
		{"le<ft", false},
		{"rig>ht", false},
	}
	for _, c := range cases {
		if got := IsValidName(c.name); got != c.want {
			t.Errorf("IsValidName(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

// buildSampleTree builds:
//
//	~/
//	├── todo (file)
//	├── animals/  [cats/, dogs/, pig.txt]
//	└── food/mc/a/b/c/d/x (file)
func buildSampleTree() *Dir {
	root := NewRoot()
	NewFile("todo", root, testAddr, 10)

	animals := NewDir("animals", root)
	NewDir("cats", animals)
	NewDir("dogs", animals)
	NewFile("pig.txt", animals, testAddr, 123)

	food := NewDir("food", root)
	mc := NewDir("mc", food)
	a := NewDir("a", mc)
	b := NewDir("b", a)
	c := NewDir("c", b)
	d := NewDir("d", c)
	NewFile("x", d, testAddr, 0)

	return root
}

func TestPathTo(t *testing.T) {
	root := buildSampleTree()

	node, ok := root.MoveTo("animals/pig.txt")
	if !ok {
		t.Fatal("resolving animals/pig.txt failed")
	}
	if got := node.PathTo(); got != "~/animals/pig.txt" {
		t.Errorf("PathTo() = %q", got)
	}

	node, ok = root.MoveTo("food/mc/a")
	if !ok {
		t.Fatal("resolving food/mc/a failed")
	}
	if got := node.PathTo(); got != "~/food/mc/a/" {
		t.Errorf("PathTo() = %q", got)
	}
}

func TestMoveTo(t *testing.T) {
	root := buildSampleTree()
	animals, _ := root.MoveTo("animals")

	cases := []struct {
		start *Dir
		path  string
		want  string // resolved path, "" for failure
	}{
		{root, "", "~/"},
		{root, ".", "~/"},
		{root, "animals", "~/animals/"},
		{root, "animals/cats", "~/animals/cats/"},
		{root, "animals//cats", "~/animals/cats/"},
		{root, "animals\\cats", "~/animals/cats/"},
		{root, "todo", "~/todo"},
		{root, "..", "~/"},
		{root, "missing", ""},
		{root, "todo/deeper", ""},
		{animals.(*Dir), "..", "~/"},
		{animals.(*Dir), "../food/mc", "~/food/mc/"},
		{animals.(*Dir), "~", "~/"},
		{animals.(*Dir), "~/food", "~/food/"},
		{animals.(*Dir), "cats/~", ""},
		{animals.(*Dir), "./cats", "~/animals/cats/"},
	}

	for _, c := range cases {
		node, ok := c.start.MoveTo(c.path)
		if c.want == "" {
			if ok {
				t.Errorf("MoveTo(%q) from %s resolved to %s, want failure",
					c.path, c.start.PathTo(), node.PathTo())
			}
			continue
		}
		if !ok {
			t.Errorf("MoveTo(%q) from %s failed, want %s", c.path, c.start.PathTo(), c.want)
			continue
		}
		if got := node.PathTo(); got != c.want {
			t.Errorf("MoveTo(%q) = %s, want %s", c.path, got, c.want)
		}
	}
}

func TestHasObjectIsCaseSensitive(t *testing.T) {
	root := buildSampleTree()
	animals, _ := root.MoveTo("animals")
	dir := animals.(*Dir)

	if !dir.HasObject("pig.txt") {
		t.Error("HasObject(pig.txt) = false")
	}
	if !dir.HasObject("cats") {
		t.Error("HasObject(cats) = false")
	}
	if dir.HasObject("PIG.TXT") {
		t.Error("HasObject is not case-sensitive")
	}
	if dir.HasObject("hamsters") {
		t.Error("HasObject(hamsters) = true")
	}
}

func TestRemoveRootRefused(t *testing.T) {
	root := buildSampleTree()
	if root.Remove() {
		t.Error("removing the root succeeded")
	}
}

func TestRemoveDetachesAndUnlinks(t *testing.T) {
	root := buildSampleTree()

	node, _ := root.MoveTo("food/mc")
	mc := node.(*Dir)
	deep, _ := mc.MoveTo("a/b/c")
	deepDir := deep.(*Dir)

	if !mc.Remove() {
		t.Fatal("removing food/mc failed")
	}

	if _, ok := root.MoveTo("food/mc"); ok {
		t.Error("removed directory still resolves")
	}
	if deepDir.IsLinked() {
		t.Error("descendant of a removed directory is still linked")
	}
	if !root.IsLinked() {
		t.Error("root lost linkage")
	}
}

func TestWalkOrder(t *testing.T) {
	root := buildSampleTree()

	var names []string
	for _, node := range root.Walk(false) {
		names = append(names, node.Name())
	}

	want := []string{"todo", "animals", "pig.txt", "cats", "dogs", "food", "mc", "a", "b", "c", "d", "x"}
	if len(names) != len(want) {
		t.Fatalf("Walk returned %d nodes, want %d: %v", len(names), len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Walk order = %v, want %v", names, want)
		}
	}
}

func TestWalkFilesOnly(t *testing.T) {
	root := buildSampleTree()

	for _, node := range root.Walk(true) {
		if _, ok := node.(*File); !ok {
			t.Errorf("Walk(true) yielded non-file %s", node.Name())
		}
	}
	if got := len(root.Walk(true)); got != 3 {
		t.Errorf("Walk(true) yielded %d files, want 3", got)
	}
}

func TestDrawTree(t *testing.T) {
	root := buildSampleTree()
	drawn := root.DrawTree()

	if !strings.HasPrefix(drawn, "[~]\n") {
		t.Errorf("tree drawing does not start at root:\n%s", drawn)
	}
	for _, want := range []string{"| todo (10.0B)", "| [animals]", "| | pig.txt (123.0B)"} {
		if !strings.Contains(drawn, want) {
			t.Errorf("tree drawing misses %q:\n%s", want, drawn)
		}
	}
}

func TestJSONTree(t *testing.T) {
	root := buildSampleTree()
	doc := root.JSONTree()

	if doc.Type != "D" || doc.Name != "~" || doc.Path != "~/" {
		t.Errorf("root document = %+v", doc)
	}
	if len(doc.Files) != 1 || doc.Files[0].Name != "todo" || doc.Files[0].Size != 10 {
		t.Errorf("root files = %+v", doc.Files)
	}
	if len(doc.Dirs) != 2 {
		t.Fatalf("root dirs = %+v", doc.Dirs)
	}
	if doc.Dirs[0].Name != "animals" || doc.Dirs[0].Path != "~/animals/" {
		t.Errorf("first subdir = %+v", doc.Dirs[0])
	}
}
