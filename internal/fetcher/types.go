package fetcher

// Input is one declared input to resolve: the declaration's type tag and
// free-form value string, plus the identity of the config block that may
// override settings for it.
type Input struct {
	// Type is the declared input type tag (e.g. "git", "path").
	Type string

	// Value is the free-form input value string.
	Value string

	// Project, Jobset and Name identify the input declaration for
	// configuration override lookup.
	Project string
	Jobset  string
	Name    string
}

// RepoInfo is one node of the published result tree, built bottom-up by
// recursive resolution. Submodules is ordered by submodule path so that
// repeated resolutions of an unchanged tree serialize to byte-identical
// output.
type RepoInfo struct {
	URI         string      `json:"uri"`
	Revision    string      `json:"revision"`
	RevCount    int         `json:"revCount"`
	Tag         string      `json:"gitTag"`
	ShortRev    string      `json:"shortRev"`
	Sha256Hash  string      `json:"sha256hash,omitempty"`
	ContentPath string      `json:"contentPath,omitempty"`
	Submodule   string      `json:"submodule,omitempty"`
	Submodules  []*RepoInfo `json:"submods,omitempty"`
}
