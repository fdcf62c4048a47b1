package main

import (
	"os"
	"strconv"
	"strings"
)

var mimeTypes = map[string]string{
	`html`: `text/html`,
	`htm`:  `text/html`,
	`css`:  `text/css`,
	`js`:   `application/javascript`,
	`json`: `application/json`,
	`png`:  `image/png`,
	`jpg`:  `image/jpeg`,
	`jpeg`: `image/jpeg`,
	`gif`:  `image/gif`,
	`svg`:  `image/svg+xml`,
	`txt`:  `text/plain`,
	`pdf`:  `application/pdf`,
}

func detectMimeType(path string) string {
	ext := strings.TrimPrefix(fileExtension(path), `.`)
	if mime, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return mime
	}
	return `application/octet-stream`
}

// handleStaticPage reads the resolved file into the response body.
func handleStaticPage(req *Request, res *Response, lg *Logger) {
	content, err := os.ReadFile(req.Resolved)
	if err != nil {
		if os.IsNotExist(err) {
			lg.Warningf(`static: file not found: %s`, req.Resolved)
			res.Status = StatusNotFound
		} else {
			lg.Errorf(`static: open failed: %s: %v`, req.Resolved, err)
			res.Status = StatusInternalError
		}
		return
	}

	setStaticOutput(res, content, detectMimeType(req.Resolved))
}

func setStaticOutput(res *Response, content []byte, mime string) {
	res.Chunked = false
	res.AddHeader(`Content-Type`, mime)
	res.AddHeader(`Content-Length`, strconv.Itoa(len(content)))
	res.AppendBody(content)
}
