package intent

import (
	"path"
	"strings"
)

// PathClass is the coarse classification of a touched file.
type PathClass string

const (
	ClassTest   PathClass = "test"
	ClassDocs   PathClass = "docs"
	ClassConfig PathClass = "config"
	ClassImpl   PathClass = "impl"
)

var docsExtensions = map[string]bool{
	".md":  true,
	".mdx": true,
	".rst": true,
	".txt": true,
}

var docsStems = map[string]bool{
	"readme":    true,
	"changelog": true,
	"license":   true,
}

var configExtensions = map[string]bool{
	".json": true,
	".yaml": true,
	".yml":  true,
	".toml": true,
	".lock": true,
}

// ClassifyPath classifies a file path as test, docs, config, or impl.
// Rules are ordered and the first match wins; matching is
// case-insensitive and treats forward and backward separators alike.
func ClassifyPath(p string) PathClass {
	norm := strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
	base := path.Base(norm)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	dirs := strings.Split(path.Dir(norm), "/")

	// Test files gate everything else: a test named *.config.spec.ts is
	// still a test.
	switch {
	case strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."),
		strings.Contains(base, "_test."),
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"):
		return ClassTest
	}
	for _, d := range dirs {
		if d == "test" || d == "tests" || d == "__tests__" {
			return ClassTest
		}
	}

	if docsExtensions[ext] || docsStems[stem] || docsStems[base] {
		return ClassDocs
	}
	for _, d := range dirs {
		if d == "docs" {
			return ClassDocs
		}
	}

	switch {
	case configExtensions[ext],
		strings.HasPrefix(base, ".env"),
		strings.HasSuffix(base, "rc"),
		strings.Contains(base, ".config."),
		strings.HasPrefix(base, "tsconfig"),
		base == "dockerfile",
		base == "makefile",
		base == "go.sum":
		return ClassConfig
	}

	return ClassImpl
}
