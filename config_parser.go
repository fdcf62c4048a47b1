package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ParseConfigFile reads and parses the nginx-like configuration grammar:
// `server { ... }` blocks with directives terminated by `;` and nested
// `location PATH { ... }` blocks. Comments run from `#` to end of line.
func ParseConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(`config: %w`, err)
	}
	return parseConfig(tokenizeConfig(string(data)))
}

// tokenizeConfig splits on whitespace while keeping `{`, `}` and `;` as
// standalone tokens.
func tokenizeConfig(src string) []string {
	var tokens []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	inComment := false
	for i := 0; i < len(src); i++ {
		ch := src[i]

		if inComment {
			if ch == '\n' {
				inComment = false
			}
			continue
		}

		switch ch {
		case '#':
			flush()
			inComment = true
		case ' ', '\t', '\r', '\n':
			flush()
		case '{', '}', ';':
			flush()
			tokens = append(tokens, string(ch))
		default:
			cur.WriteByte(ch)
		}
	}
	flush()

	return tokens
}

type configParser struct {
	tokens []string
	pos    int
}

func parseConfig(tokens []string) (*Config, error) {
	p := &configParser{tokens: tokens}
	cfg := &Config{}

	for !p.done() {
		if p.peek() != `server` {
			return nil, fmt.Errorf(`config: expected "server", got %q`, p.peek())
		}
		p.pos++

		srv, err := p.parseServerBlock()
		if err != nil {
			return nil, err
		}
		cfg.Servers = append(cfg.Servers, *srv)
	}

	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf(`config: no server block`)
	}
	return cfg, nil
}

func (p *configParser) done() bool {
	return p.pos >= len(p.tokens)
}

func (p *configParser) peek() string {
	if p.done() {
		return ``
	}
	return p.tokens[p.pos]
}

func (p *configParser) next() (string, error) {
	if p.done() {
		return ``, fmt.Errorf(`config: unexpected end of file`)
	}
	tok := p.tokens[p.pos]
	p.pos++
	return tok, nil
}

func (p *configParser) expect(want string) error {
	tok, err := p.next()
	if err != nil {
		return err
	}
	if tok != want {
		return fmt.Errorf(`config: expected %q, got %q`, want, tok)
	}
	return nil
}

func (p *configParser) parseServerBlock() (*ServerConfig, error) {
	if err := p.expect(`{`); err != nil {
		return nil, err
	}

	srv := &ServerConfig{
		Host:       `0.0.0.0`,
		Port:       8080,
		ErrorPages: make(map[int]string),
	}
	seen := make(map[string]bool)

	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		if tok == `}` {
			break
		}

		if tok != `location` && tok != `error_page` {
			if seen[tok] {
				return nil, fmt.Errorf(`config: duplicate %q directive in server block`, tok)
			}
			seen[tok] = true
		}

		switch tok {
		case `listen`:
			arg, err := p.directiveArg(tok)
			if err != nil {
				return nil, err
			}
			if err := parseListen(arg, srv); err != nil {
				return nil, err
			}

		case `root`:
			if srv.Root, err = p.directiveArg(tok); err != nil {
				return nil, err
			}

		case `index`:
			if srv.Index, err = p.directiveArg(tok); err != nil {
				return nil, err
			}
			srv.HasIndex = true

		case `client_max_body_size`:
			arg, err := p.directiveArg(tok)
			if err != nil {
				return nil, err
			}
			if srv.ClientMaxBodySize, err = parseBodySize(arg); err != nil {
				return nil, err
			}

		case `autoindex`:
			arg, err := p.directiveArg(tok)
			if err != nil {
				return nil, err
			}
			if srv.Autoindex, err = parseOnOff(tok, arg); err != nil {
				return nil, err
			}

		case `error_page`:
			codeTok, err := p.next()
			if err != nil {
				return nil, err
			}
			page, err := p.directiveArg(tok)
			if err != nil {
				return nil, err
			}
			code, err := strconv.Atoi(codeTok)
			if err != nil || code < 100 || code > 599 {
				return nil, fmt.Errorf(`config: bad error_page code %q`, codeTok)
			}
			if _, dup := srv.ErrorPages[code]; dup {
				return nil, fmt.Errorf(`config: duplicate error_page for %d`, code)
			}
			srv.ErrorPages[code] = page

		case `location`:
			loc, err := p.parseLocationBlock()
			if err != nil {
				return nil, err
			}
			srv.Locations = append(srv.Locations, *loc)

		default:
			return nil, fmt.Errorf(`config: unknown directive %q in server block`, tok)
		}
	}

	if srv.Root == `` {
		return nil, fmt.Errorf(`config: server block missing root`)
	}
	if len(srv.Locations) == 0 {
		return nil, fmt.Errorf(`config: server block missing location`)
	}
	return srv, nil
}

// directiveArg consumes one argument and the trailing `;`.
func (p *configParser) directiveArg(directive string) (string, error) {
	arg, err := p.next()
	if err != nil {
		return ``, err
	}
	if arg == `;` || arg == `{` || arg == `}` {
		return ``, fmt.Errorf(`config: missing argument for %q`, directive)
	}
	if err := p.expect(`;`); err != nil {
		return ``, err
	}
	return arg, nil
}

func (p *configParser) parseLocationBlock() (*LocationConfig, error) {
	path, err := p.next()
	if err != nil {
		return nil, err
	}
	if err := p.expect(`{`); err != nil {
		return nil, err
	}

	loc := &LocationConfig{
		Path:         path,
		CgiExtension: make(map[string]string),
	}
	seen := make(map[string]bool)

	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		if tok == `}` {
			break
		}

		// both spellings of the upload flag are accepted and share one
		// duplicate slot
		canon := tok
		if canon == `upload_enable` {
			canon = `upload_enabled`
		}
		if canon != `cgi_extension` {
			if seen[canon] {
				return nil, fmt.Errorf(`config: duplicate %q directive in location %s`, tok, path)
			}
			seen[canon] = true
		}

		switch canon {
		case `root`:
			if loc.Root, err = p.directiveArg(tok); err != nil {
				return nil, err
			}
			loc.HasRoot = true

		case `index`:
			if loc.Index, err = p.directiveArg(tok); err != nil {
				return nil, err
			}
			loc.HasIndex = true

		case `autoindex`:
			arg, err := p.directiveArg(tok)
			if err != nil {
				return nil, err
			}
			if loc.Autoindex, err = parseOnOff(tok, arg); err != nil {
				return nil, err
			}
			loc.HasAutoindex = true

		case `methods`:
			for p.peek() != `;` {
				methodTok, err := p.next()
				if err != nil {
					return nil, err
				}
				method, err := parseConfigMethod(methodTok)
				if err != nil {
					return nil, err
				}
				loc.Methods = append(loc.Methods, method)
			}
			if err := p.expect(`;`); err != nil {
				return nil, err
			}
			if len(loc.Methods) == 0 {
				return nil, fmt.Errorf(`config: empty methods list in location %s`, path)
			}

		case `return`:
			codeTok, err := p.next()
			if err != nil {
				return nil, err
			}
			target, err := p.directiveArg(tok)
			if err != nil {
				return nil, err
			}
			code, err := strconv.Atoi(codeTok)
			if err != nil || code < 100 || code > 599 {
				return nil, fmt.Errorf(`config: bad return code %q in location %s`, codeTok, path)
			}
			loc.Return = Redirect{Status: code, Target: target}

		case `upload_path`:
			if loc.UploadPath, err = p.directiveArg(tok); err != nil {
				return nil, err
			}

		case `upload_enabled`:
			arg, err := p.directiveArg(tok)
			if err != nil {
				return nil, err
			}
			if loc.UploadEnabled, err = parseOnOff(tok, arg); err != nil {
				return nil, err
			}

		case `cgi_path`:
			if loc.CgiPath, err = p.directiveArg(tok); err != nil {
				return nil, err
			}

		case `cgi_extension`:
			ext, err := p.next()
			if err != nil {
				return nil, err
			}
			interpreter, err := p.directiveArg(tok)
			if err != nil {
				return nil, err
			}
			if !strings.HasPrefix(ext, `.`) {
				return nil, fmt.Errorf(`config: cgi_extension %q must start with a dot`, ext)
			}
			loc.CgiExtension[ext] = interpreter

		case `location`:
			return nil, fmt.Errorf(`config: nested location in %s`, path)

		default:
			return nil, fmt.Errorf(`config: unknown directive %q in location %s`, tok, path)
		}
	}

	return loc, nil
}

func parseConfigMethod(tok string) (Method, error) {
	switch strings.ToUpper(tok) {
	case `GET`:
		return MethodGET, nil
	case `POST`:
		return MethodPOST, nil
	case `PUT`:
		return MethodPUT, nil
	case `DELETE`:
		return MethodDELETE, nil
	}
	return MethodINVALID, fmt.Errorf(`config: unknown method %q`, tok)
}

func parseOnOff(directive, arg string) (bool, error) {
	switch arg {
	case `on`:
		return true, nil
	case `off`:
		return false, nil
	}
	return false, fmt.Errorf(`config: %s must be "on" or "off", got %q`, directive, arg)
}

// parseListen accepts `host:port` or a bare port; `*` means every
// interface.
func parseListen(arg string, srv *ServerConfig) error {
	host := `0.0.0.0`
	portStr := arg

	if colon := strings.IndexByte(arg, ':'); colon != -1 {
		host = arg[:colon]
		portStr = arg[colon+1:]
		if host == `` || host == `*` {
			host = `0.0.0.0`
		}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf(`config: bad listen port %q`, portStr)
	}

	srv.Host = host
	srv.Port = port
	return nil
}

// parseBodySize handles `N`, `NK`, `NM`, `NG` (case-insensitive suffix).
// Zero disables the limit.
func parseBodySize(arg string) (int64, error) {
	if arg == `` {
		return 0, fmt.Errorf(`config: empty client_max_body_size`)
	}

	mult := int64(1)
	numPart := arg
	switch arg[len(arg)-1] {
	case 'k', 'K':
		mult = 1 << 10
		numPart = arg[:len(arg)-1]
	case 'm', 'M':
		mult = 1 << 20
		numPart = arg[:len(arg)-1]
	case 'g', 'G':
		mult = 1 << 30
		numPart = arg[:len(arg)-1]
	}

	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf(`config: bad client_max_body_size %q`, arg)
	}
	return n * mult, nil
}
