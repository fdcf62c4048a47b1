package main

// dispatch routes the completed request and invokes exactly one handler.
// Synchronous verdicts produce a queued response immediately; CGI hands the
// pipe to the event loop and leaves the response for later.
func (c *Connection) dispatch() connAction {
	req, res := c.req, c.res

	routeRequest(req, res, c.srv, c.lg)
	c.lg.Debugf(`dispatch fd=%d: %s %s -> verdict=%d path=%s`,
		c.fd, req.Method, req.URI, req.Verdict, req.Resolved)

	if req.Verdict == VerdictCGI {
		handle, err := startCgi(req, c.fd, c.lg)
		if err == nil {
			c.cgi = handle
			return actionWaitCgi
		}
		req.Verdict = VerdictError
		res.Status = StatusInternalError
	}

	switch req.Verdict {
	case VerdictStaticPage:
		handleStaticPage(req, res, c.lg)
	case VerdictAutoIndex:
		handleAutoIndex(req, res, c.lg)
	case VerdictUpload:
		loc := c.srv.MatchLocation(req.URI)
		handleUpload(req, res, loc.UploadPath, c.srv.Root, c.lg)
	case VerdictDelete:
		handleDelete(req, res, c.lg)
	case VerdictRedirect, VerdictError:
		// response status and headers already set by the router
	}

	c.queueResponse()
	return actionWrite
}
