package main

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

const autoindexTemplate = `<!DOCTYPE html>
<html>
<head>
<title>Index of {PATH}</title>
<style>
    body { font-family: 'Monaco', 'Menlo', 'Ubuntu Mono', monospace; font-size: 13px; margin: 0; padding: 20px; background-color: #f5f5f5; }
    h1 { color: #333; font-size: 18px; margin-bottom: 20px; padding-bottom: 10px; border-bottom: 1px solid #ddd; }
    table { width: 100%; border-collapse: collapse; background-color: white; }
    th { text-align: left; padding: 12px 15px; background-color: #f8f8f8; border-bottom: 2px solid #ddd; color: #555; }
    td { padding: 10px 15px; border-bottom: 1px solid #eee; }
    a { text-decoration: none; color: #0366d6; }
    a:hover { text-decoration: underline; }
    .size { text-align: right; font-family: monospace; color: #666; }
    address { font-style: normal; color: #888; font-size: 11px; }
</style>
</head>
<body>
<h1>Index of {PATH}</h1>
<table>
    <thead>
        <tr><th>Name</th><th>Last Modified</th><th>Size</th></tr>
    </thead>
    <tbody>
{CONTENT}    </tbody>
</table>
<hr>
<address>{SERVER_INFO}</address>
</body>
</html>
`

// handleAutoIndex renders the directory listing for the resolved path.
func handleAutoIndex(req *Request, res *Response, lg *Logger) {
	uri := req.URI
	if uri == `` || uri[len(uri)-1] != '/' {
		uri += `/`
	}

	entries, err := os.ReadDir(req.Resolved)
	if err != nil {
		lg.Errorf(`autoindex: %s: %v`, req.Resolved, err)
		res.Status = StatusInternalError
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var rows strings.Builder
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}

		name := entry.Name()
		isDir := entry.IsDir()
		size := `-`
		if !isDir {
			size = formatSize(info.Size())
		}
		suffix := ``
		if isDir {
			suffix = `/`
		}

		rows.WriteString(`        <tr>`)
		rows.WriteString(`<td><a href="` + uri + name + suffix + `">` + name + suffix + `</a></td>`)
		rows.WriteString(`<td class="date">` + info.ModTime().Format(`02-Jan-2006 15:04`) + `</td>`)
		rows.WriteString(`<td class="size">` + size + `</td>`)
		rows.WriteString("</tr>\n")
	}

	html := autoindexTemplate
	html = strings.ReplaceAll(html, `{PATH}`, uri)
	html = strings.Replace(html, `{CONTENT}`, rows.String(), 1)
	html = strings.Replace(html, `{SERVER_INFO}`, serverSoftware, 1)

	res.Status = StatusOK
	res.AddHeader(`Content-Type`, `text/html`)
	res.AddHeader(`Content-Length`, strconv.Itoa(len(html)))
	res.AppendBody([]byte(html))
}
