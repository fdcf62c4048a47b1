package main

import "os"

// handleDelete unlinks the resolved path.
func handleDelete(req *Request, res *Response, lg *Logger) {
	err := os.Remove(req.Resolved)
	switch {
	case err == nil:
		lg.Infof(`delete: removed %s`, req.Resolved)
		res.Status = StatusNoContent
		res.AddHeader(`Content-Length`, `0`)
	case os.IsNotExist(err):
		res.Status = StatusNotFound
	case os.IsPermission(err):
		res.Status = StatusForbidden
	default:
		lg.Errorf(`delete: %s: %v`, req.Resolved, err)
		res.Status = StatusInternalError
	}
}
