package index

import (
	"path/filepath"
	"strings"
)

// syncExtensions is the extension allow-list for tracked files.
var syncExtensions = map[string]bool{
	// Markdown.
	"md": true, "markdown": true, "mdown": true, "mkdn": true, "mkd": true,
	"mdwn": true, "mdtxt": true, "mdtext": true, "text": true,
	// Images.
	"jpg": true, "jpeg": true, "png": true, "gif": true, "svg": true,
	"webp": true, "bmp": true, "ico": true, "tiff": true, "tif": true,
	// Code.
	"rs": true, "py": true, "js": true, "ts": true, "jsx": true, "tsx": true,
	"html": true, "css": true, "scss": true, "json": true, "yaml": true,
	"yml": true, "toml": true, "xml": true, "go": true,
	// Configuration.
	"ini": true, "cfg": true, "conf": true, "config": true, "env": true,
	// Documents.
	"txt": true, "rtf": true, "doc": true, "docx": true, "pdf": true,
	// Data.
	"csv": true, "tsv": true, "jsonl": true,
}

// syncFilenames is the fixed set of well-known extensionless or dot-named
// project files that are tracked despite failing the extension check.
var syncFilenames = map[string]bool{
	".gitignore": true, ".gitattributes": true, ".editorconfig": true,
	".env.example": true,
	".eslintrc":    true, ".prettierrc": true, ".babelrc": true,
	"package.json": true, "package-lock.json": true, "yarn.lock": true,
	"pnpm-lock.yaml": true,
	"Cargo.toml":     true, "Cargo.lock": true, "go.mod": true, "go.sum": true,
	"pom.xml": true, "build.gradle": true,
	"requirements.txt": true, "pyproject.toml": true, "setup.py": true,
	"Pipfile": true, "poetry.lock": true,
	"tsconfig.json": true, "webpack.config.js": true, "vite.config.js": true,
	"next.config.js": true,
	"README":         true, "README.md": true, "LICENSE": true,
	"CHANGELOG.md": true, "CONTRIBUTING.md": true,
}

// Eligible reports whether the file at the given path is tracked by the
// indexer. The decision uses only the path, never the content.
func Eligible(path string) bool {
	name := filepath.Base(path)
	if syncFilenames[name] {
		return true
	}

	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return false
	}
	return syncExtensions[strings.ToLower(ext)]
}

// Hidden reports whether any component of the relative path starts with a
// dot. Hidden directories and files are excluded from the walk entirely; the
// hidden check runs before eligibility, so a dot-named entry in syncFilenames
// is still skipped when walking (it matters only for watcher events).
func Hidden(relPath string) bool {
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}

// IsNote reports whether path is in the tracked textual format eligible for
// structural merging.
func IsNote(path string) bool {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "md", "markdown", "mdown", "mkdn", "mkd", "mdwn", "mdtxt", "mdtext", "text":
		return true
	default:
		return false
	}
}
