package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *Logger {
	return NewLogger(io.Discard, LogError)
}

// routerFixture lays out a small document tree:
//
//	root/
//	  index.html
//	  page.txt
//	  sub/            (no index)
//	  cgi-bin/echo.py (executable)
//	  uploads/
func routerFixture(t *testing.T) *ServerConfig {
	t.Helper()
	root := t.TempDir()

	write := func(rel, content string, mode os.FileMode) {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), mode); err != nil {
			t.Fatal(err)
		}
	}

	write(`index.html`, "hello\n", 0o644)
	write(`page.txt`, `text`, 0o644)
	write(`cgi-bin/echo.py`, "#!/usr/bin/env python3\nprint()\n", 0o755)
	if err := os.MkdirAll(filepath.Join(root, `sub`), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, `uploads`), 0o755); err != nil {
		t.Fatal(err)
	}

	return &ServerConfig{
		Host:     `127.0.0.1`,
		Port:     8080,
		Root:     root,
		Index:    `index.html`,
		HasIndex: true,
		Locations: []LocationConfig{
			{
				Path:    `/`,
				Methods: []Method{MethodGET, MethodPOST, MethodPUT, MethodDELETE},
			},
			{
				Path:         `/cgi-bin`,
				Methods:      []Method{MethodGET, MethodPOST},
				CgiPath:      filepath.Join(root, `cgi-bin`),
				CgiExtension: map[string]string{`.py`: `/usr/bin/python3`},
			},
			{
				Path:          `/upload`,
				Methods:       []Method{MethodPOST, MethodPUT},
				UploadPath:    `uploads`,
				UploadEnabled: true,
			},
			{
				Path:    `/old`,
				Methods: []Method{MethodGET},
				Return:  Redirect{Status: 301, Target: `/new`},
			},
			{
				Path:         `/listing`,
				Methods:      []Method{MethodGET},
				Root:         root,
				HasRoot:      true,
				Autoindex:    true,
				HasAutoindex: true,
			},
		},
	}
}

func route(t *testing.T, srv *ServerConfig, method Method, uri string) (*Request, *Response) {
	t.Helper()
	req := NewRequest()
	res := NewResponse()
	req.Method = method
	req.URI = uri
	routeRequest(req, res, srv, testLogger())
	return req, res
}

func TestRouteParseErrorIsTerminal(t *testing.T) {
	srv := routerFixture(t)
	req := NewRequest()
	res := NewResponse()
	req.ParseError = StatusURITooLong
	routeRequest(req, res, srv, testLogger())

	if req.Verdict != VerdictError || res.Status != StatusURITooLong {
		t.Errorf(`verdict=%d status=%d, want Error/414`, req.Verdict, res.Status)
	}
}

func TestRouteTraversalBlocked(t *testing.T) {
	srv := routerFixture(t)
	for _, uri := range []string{`/../etc/passwd`, `../x`, `/a/../b`, `/a/..`} {
		req, res := route(t, srv, MethodGET, uri)
		if req.Verdict != VerdictError || res.Status != StatusForbidden {
			t.Errorf(`%s: verdict=%d status=%d, want Error/403`, uri, req.Verdict, res.Status)
		}
	}
}

func TestRouteStaticFile(t *testing.T) {
	srv := routerFixture(t)
	req, res := route(t, srv, MethodGET, `/page.txt`)

	if req.Verdict != VerdictStaticPage {
		t.Fatalf(`verdict = %d, want StaticPage (status %d)`, req.Verdict, res.Status)
	}
	if req.Resolved != filepath.Join(srv.Root, `page.txt`) {
		t.Errorf(`resolved = %q`, req.Resolved)
	}
}

func TestRouteDirectoryUsesIndex(t *testing.T) {
	srv := routerFixture(t)
	req, _ := route(t, srv, MethodGET, `/`)

	if req.Verdict != VerdictStaticPage {
		t.Fatalf(`verdict = %d, want StaticPage`, req.Verdict)
	}
	if req.Resolved != filepath.Join(srv.Root, `index.html`) {
		t.Errorf(`resolved = %q, want index.html under root`, req.Resolved)
	}
}

func TestRouteNotFound(t *testing.T) {
	srv := routerFixture(t)
	req, res := route(t, srv, MethodGET, `/missing.html`)

	if req.Verdict != VerdictError || res.Status != StatusNotFound {
		t.Errorf(`verdict=%d status=%d, want Error/404`, req.Verdict, res.Status)
	}
}

func TestRouteRedirect(t *testing.T) {
	srv := routerFixture(t)
	req, res := route(t, srv, MethodGET, `/old`)

	if req.Verdict != VerdictRedirect {
		t.Fatalf(`verdict = %d, want Redirect`, req.Verdict)
	}
	if res.Status != StatusMovedPermanently {
		t.Errorf(`status = %d, want 301`, res.Status)
	}
	if loc, _ := res.GetHeader(`Location`); loc != `/new` {
		t.Errorf(`location = %q`, loc)
	}
	if !req.Meta.Redirect {
		t.Error(`redirect meta flag not set`)
	}
}

func TestRouteCgi(t *testing.T) {
	srv := routerFixture(t)
	req, res := route(t, srv, MethodGET, `/cgi-bin/echo.py`)

	if req.Verdict != VerdictCGI {
		t.Fatalf(`verdict = %d, want CGI (status %d)`, req.Verdict, res.Status)
	}
	if req.Resolved != filepath.Join(srv.Root, `cgi-bin`, `echo.py`) {
		t.Errorf(`resolved = %q`, req.Resolved)
	}
}

func TestRouteCgiNotExecutable(t *testing.T) {
	srv := routerFixture(t)
	script := filepath.Join(srv.Root, `cgi-bin`, `echo.py`)
	if err := os.Chmod(script, 0o644); err != nil {
		t.Fatal(err)
	}

	req, res := route(t, srv, MethodGET, `/cgi-bin/echo.py`)
	if req.Verdict != VerdictError || res.Status != StatusForbidden {
		t.Errorf(`verdict=%d status=%d, want Error/403`, req.Verdict, res.Status)
	}
}

func TestRouteUpload(t *testing.T) {
	srv := routerFixture(t)
	req, res := route(t, srv, MethodPOST, `/upload`)

	if req.Verdict != VerdictUpload {
		t.Fatalf(`verdict = %d, want Upload (status %d)`, req.Verdict, res.Status)
	}
}

func TestRouteUploadMissingDirectory(t *testing.T) {
	srv := routerFixture(t)
	srv.Locations[2].UploadPath = `nonexistent`

	req, res := route(t, srv, MethodPOST, `/upload`)
	if req.Verdict != VerdictError || res.Status != StatusInternalError {
		t.Errorf(`verdict=%d status=%d, want Error/500`, req.Verdict, res.Status)
	}
}

func TestRouteAutoIndex(t *testing.T) {
	srv := routerFixture(t)

	// /listing/sub resolves to root/sub, a directory without an index file
	req, res := route(t, srv, MethodGET, `/listing/sub`)
	if req.Verdict != VerdictAutoIndex {
		t.Fatalf(`verdict = %d, want AutoIndex (status %d)`, req.Verdict, res.Status)
	}
}

func TestRouteDelete(t *testing.T) {
	srv := routerFixture(t)

	// target a path the static check cannot claim
	req, _ := route(t, srv, MethodDELETE, `/missing.txt`)
	if req.Verdict != VerdictDelete {
		t.Fatalf(`verdict = %d, want Delete`, req.Verdict)
	}
}

func TestMatchLocationLongestPrefix(t *testing.T) {
	srv := routerFixture(t)

	if loc := srv.MatchLocation(`/cgi-bin/echo.py`); loc.Path != `/cgi-bin` {
		t.Errorf(`matched %q, want /cgi-bin`, loc.Path)
	}
	if loc := srv.MatchLocation(`/upload`); loc.Path != `/upload` {
		t.Errorf(`matched %q, want /upload (exact)`, loc.Path)
	}
	if loc := srv.MatchLocation(`/anything/else`); loc.Path != `/` {
		t.Errorf(`matched %q, want /`, loc.Path)
	}
}

func TestEffectiveAutoindex(t *testing.T) {
	srv := &ServerConfig{Autoindex: true}
	off := &LocationConfig{Autoindex: false, HasAutoindex: true}
	unset := &LocationConfig{}

	if srv.EffectiveAutoindex(off) {
		t.Error(`location off should override server on`)
	}
	if !srv.EffectiveAutoindex(unset) {
		t.Error(`unset location should inherit server on`)
	}
}
