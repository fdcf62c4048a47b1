package main

import (
	"os"
	"strconv"
	"time"
)

const serverSoftware = `webserv42/1.0`

func fmtTimestamp(now time.Time) string {
	return now.UTC().Format(`Mon, 02 Jan 2006 15:04:05 GMT`)
}

// buildResponse finalizes a response before serialization: mandatory
// headers, connection mode, and an error page for any 4xx/5xx without a
// body.
func buildResponse(req *Request, res *Response, srv *ServerConfig) {
	res.Version = `1.1`
	res.AddHeader(`Date`, fmtTimestamp(time.Now()))
	res.AddHeader(`Server`, serverSoftware)

	if mustCloseStatus(res.Status) {
		req.Meta.ConnectionClose = true
	}

	if req.Meta.ConnectionClose {
		res.AddHeader(`Connection`, `close`)
	} else {
		res.AddHeader(`Connection`, `keep-alive`)
	}

	if res.Status >= 400 && len(res.Body) == 0 {
		content, ok := configuredErrorPage(res.Status, srv)
		if !ok {
			content = defaultErrorPage(res.Status)
		}
		res.AddHeader(`Content-Type`, `text/html`)
		res.AppendBody(content)
	}

	if _, ok := res.GetHeader(`Content-Length`); !ok {
		res.AddHeader(`Content-Length`, strconv.Itoa(len(res.Body)))
	}
}

// configuredErrorPage loads the custom page for a status from the server
// root; ok is false when none is configured or the file cannot be read.
func configuredErrorPage(code StatusCode, srv *ServerConfig) ([]byte, bool) {
	path, ok := srv.ErrorPages[int(code)]
	if !ok {
		return nil, false
	}

	content, err := os.ReadFile(joinPaths(srv.Root, path))
	if err != nil {
		return nil, false
	}
	return content, true
}

func defaultErrorPage(code StatusCode) []byte {
	status := strconv.Itoa(int(code))
	page := `<!DOCTYPE html>
<html>
<head><title>` + status + ` ` + code.Reason() + `</title></head>
<body style="text-align:center;padding:50px;">
<h1>` + status + ` - ` + code.Reason() + `</h1>
<hr><address>` + serverSoftware + `</address>
</body>
</html>
`
	return []byte(page)
}

// serializeResponse appends the wire form of the response to out and
// returns the extended buffer.
func serializeResponse(res *Response, out []byte) []byte {
	out = append(out, `HTTP/`...)
	out = append(out, res.Version...)
	out = append(out, ' ')
	out = strconv.AppendInt(out, int64(res.Status), 10)
	out = append(out, ' ')
	out = append(out, res.Status.Reason()...)
	out = append(out, "\r\n"...)

	for _, name := range res.headerOrder {
		out = append(out, name...)
		out = append(out, `: `...)
		out = append(out, res.Headers[name]...)
		out = append(out, "\r\n"...)
	}
	out = append(out, "\r\n"...)

	if !res.Chunked {
		out = append(out, res.Body...)
	}

	return out
}
