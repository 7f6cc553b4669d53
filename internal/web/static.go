package web

import (
	"net/http"
	"path"
	"strings"
)

// staticHandler serves files from dir. A path without an extension falls
// back to the same path with ".html" appended, so /about serves about.html.
// Directories are served only through their index.html.
func staticHandler(dir string) http.Handler {
	root := http.Dir(dir)
	files := http.FileServer(root)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := path.Clean("/" + r.URL.Path)

		if servable(root, p) {
			files.ServeHTTP(w, r)
			return
		}
		if !strings.HasSuffix(p, ".html") && servable(root, p+".html") {
			r2 := r.Clone(r.Context())
			r2.URL.Path = p + ".html"
			r2.URL.RawPath = ""
			files.ServeHTTP(w, r2)
			return
		}
		http.NotFound(w, r)
	})
}

// servable reports whether name is a regular file or a directory holding an
// index.html.
func servable(root http.FileSystem, name string) bool {
	f, err := root.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return false
	}
	if !st.IsDir() {
		return true
	}
	return servable(root, path.Join(name, "index.html"))
}
