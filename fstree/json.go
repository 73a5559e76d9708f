package fstree

// FileJSON is the API document of a file node.
type FileJSON struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// DirJSON is the API document of a directory subtree.
type DirJSON struct {
	Type  string     `json:"type"`
	Name  string     `json:"name"`
	Path  string     `json:"path"`
	Files []FileJSON `json:"files"`
	Dirs  []DirJSON  `json:"dirs"`
}

// JSONTree exports the subtree as a nested API document.
func (d *Dir) JSONTree() DirJSON {
	doc := DirJSON{
		Type:  tokenDir,
		Name:  d.name,
		Path:  d.PathTo(),
		Files: []FileJSON{},
		Dirs:  []DirJSON{},
	}

	for _, f := range d.files {
		doc.Files = append(doc.Files, FileJSON{
			Type: tokenFile,
			Name: f.name,
			Path: f.PathTo(),
			Size: f.Size,
		})
	}
	for _, sub := range d.dirs {
		doc.Dirs = append(doc.Dirs, sub.JSONTree())
	}
	return doc
}
