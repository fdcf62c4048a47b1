package main

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// routeRequest is the single routing decision: it classifies the request
// into a verdict, computes the resolved filesystem path, and sets the error
// status when something disqualifies the request.
func routeRequest(req *Request, res *Response, srv *ServerConfig, lg *Logger) {
	if req.ParseError != StatusOK {
		lg.Warningf(`router: request parse error %d`, req.ParseError)
		req.Verdict = VerdictError
		res.Status = req.ParseError
		return
	}

	loc := srv.MatchLocation(req.URI)

	if hasParentTraversal(req.URI) {
		lg.Warningf(`router: path traversal blocked: %s`, req.URI)
		req.Verdict = VerdictError
		res.Status = StatusForbidden
		return
	}

	computeResolvedPath(req, loc, srv)

	if loc.Return.Status != 0 {
		req.Meta.Redirect = true
		res.Chunked = false
		res.AddHeader(`Location`, loc.Return.Target)
		res.Status = StatusCode(loc.Return.Status)
		req.Verdict = VerdictRedirect
		return
	}

	if isCgi(loc, req, res, lg) {
		req.Verdict = VerdictCGI
		return
	}
	if checkErrorStatus(req, res) {
		return
	}

	if isUpload(loc, req, res, srv, lg) {
		req.Verdict = VerdictUpload
		return
	}
	if checkErrorStatus(req, res) {
		return
	}

	index := effectiveIndex(loc, srv)

	if isAutoIndex(index, req, loc, srv) {
		req.Verdict = VerdictAutoIndex
		return
	}

	if isStaticFile(index, req, res) {
		if req.Method != MethodGET {
			req.Verdict = VerdictError
			res.Status = StatusMethodNotAllowed
			return
		}
		req.Verdict = VerdictStaticPage
		return
	}
	if checkErrorStatus(req, res) {
		return
	}

	if req.Method == MethodDELETE {
		req.Verdict = VerdictDelete
		return
	}

	lg.Warningf(`router: no route for %s %s`, req.Method, req.URI)
	req.Verdict = VerdictError
	res.Status = StatusNotFound
}

func checkErrorStatus(req *Request, res *Response) bool {
	if res.Status != StatusOK {
		req.Verdict = VerdictError
		return true
	}
	return false
}

func effectiveIndex(loc *LocationConfig, srv *ServerConfig) string {
	if loc.HasIndex {
		return loc.Index
	}
	if srv.HasIndex {
		return srv.Index
	}
	return ``
}

// hasParentTraversal rejects any parent-directory escape in the URI.
func hasParentTraversal(uri string) bool {
	return strings.Contains(uri, `/../`) ||
		strings.HasPrefix(uri, `../`) ||
		strings.HasSuffix(uri, `/..`) ||
		uri == `..`
}

// computeResolvedPath maps the URI onto the filesystem: CGI base directory
// first, then the location root, then the server root. The location prefix
// is stripped only when the location supplies its own root.
func computeResolvedPath(req *Request, loc *LocationConfig, srv *ServerConfig) {
	var root string
	stripPrefix := false

	switch {
	case loc.CgiPath != ``:
		root = loc.CgiPath
		stripPrefix = true
	case loc.HasRoot:
		root = loc.Root
		stripPrefix = true
	default:
		root = srv.Root
	}

	tail := req.URI
	if stripPrefix {
		locPath := strings.TrimSuffix(loc.Path, `/`)
		if locPath != `` && strings.HasPrefix(tail, locPath) {
			tail = tail[len(locPath):]
		}
	}
	tail = strings.TrimPrefix(tail, `/`)

	resolved := joinPaths(root, tail)

	if st, err := os.Stat(resolved); err == nil && st.IsDir() {
		if loc.HasIndex {
			resolved = joinPaths(resolved, loc.Index)
		}
	}

	req.Resolved = resolved
}

// isCgi requires a mapped extension, a path under the location's CGI base,
// an existing regular file, and the execute bit.
func isCgi(loc *LocationConfig, req *Request, res *Response, lg *Logger) bool {
	if len(loc.CgiExtension) == 0 {
		return false
	}
	if _, ok := loc.CgiExtension[fileExtension(req.Resolved)]; !ok {
		return false
	}

	st, err := os.Stat(req.Resolved)
	if err != nil || !st.Mode().IsRegular() {
		return false
	}

	if loc.CgiPath != `` && !strings.Contains(req.Resolved, loc.CgiPath) {
		return false
	}

	if unix.Access(req.Resolved, unix.X_OK) != nil {
		lg.Warningf(`router: cgi target not executable: %s`, req.Resolved)
		res.Status = StatusForbidden
		return false
	}

	return true
}

// isUpload admits POST/PUT into an enabled location whose upload directory
// exists and is writable. Missing directory is a server misconfiguration
// (500); an unwritable one is 403.
func isUpload(loc *LocationConfig, req *Request, res *Response, srv *ServerConfig, lg *Logger) bool {
	if req.Method != MethodPOST && req.Method != MethodPUT {
		return false
	}
	if !loc.UploadEnabled || loc.UploadPath == `` {
		return false
	}

	base := loc.UploadPath
	if base[0] != '/' {
		base = joinPaths(srv.Root, base)
	}

	st, err := os.Stat(base)
	if err != nil || !st.IsDir() {
		lg.Warningf(`router: upload directory missing: %s`, base)
		req.Verdict = VerdictError
		res.Status = StatusInternalError
		return false
	}
	if unix.Access(base, unix.W_OK) != nil {
		lg.Warningf(`router: upload directory not writable: %s`, base)
		req.Verdict = VerdictError
		res.Status = StatusForbidden
		return false
	}

	return true
}

// isAutoIndex holds for a directory with autoindex enabled and no readable
// index file inside.
func isAutoIndex(index string, req *Request, loc *LocationConfig, srv *ServerConfig) bool {
	if !srv.EffectiveAutoindex(loc) {
		return false
	}

	st, err := os.Stat(req.Resolved)
	if err != nil || !st.IsDir() {
		return false
	}

	if index != `` {
		if st, err := os.Stat(joinPaths(req.Resolved, index)); err == nil && st.Mode().IsRegular() {
			return false
		}
	}
	return true
}

// isStaticFile resolves directories through the index file and verifies the
// result is a readable regular file. Readability failures surface as 403.
func isStaticFile(index string, req *Request, res *Response) bool {
	path := req.Resolved

	st, err := os.Stat(path)
	if err != nil {
		return false
	}

	if st.IsDir() {
		if index == `` {
			return false
		}
		path = joinPaths(path, index)
		if st, err = os.Stat(path); err != nil {
			return false
		}
	}

	if !st.Mode().IsRegular() {
		return false
	}

	if unix.Access(path, unix.R_OK) != nil {
		res.Status = StatusForbidden
		return false
	}

	req.Resolved = path
	return true
}
