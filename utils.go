package main

import (
	"strconv"
	"strings"
)

func byteSliceToInt64(s []byte) (res int64, ok bool) {
	if len(s) == 0 {
		return 0, false
	}

	sign := s[0] == '-'
	if sign {
		s = s[1:]
	}

	ok = len(s) > 0

	res = 0
	for _, c := range s {
		if v := int64(c - '0'); v < 0 || v > 9 {
			ok = false
			break
		} else {
			res = res*10 + v
		}
	}

	if sign {
		res = -res
	}

	return
}

// скопировано из github.com/valyala/fasthttp
var hex2intTable = func() []byte {
	b := make([]byte, 255)
	for i := byte(0); i < 255; i++ {
		c := byte(16)
		if i >= '0' && i <= '9' {
			c = i - '0'
		} else if i >= 'a' && i <= 'f' {
			c = i - 'a' + 10
		} else if i >= 'A' && i <= 'F' {
			c = i - 'A' + 10
		}
		b[i] = c
	}
	return b
}()

// hexToInt parses a chunk-size token. -1 on empty input, a non-hex byte or
// overflow.
func hexToInt(s []byte) int64 {
	if len(s) == 0 {
		return -1
	}

	var res int64
	for _, c := range s {
		v := hex2intTable[c]
		if v == 16 {
			return -1
		}
		res = res<<4 | int64(v)
		if res < 0 {
			return -1
		}
	}
	return res
}

func bytesToLowerInplace(buf []byte) {
	for i, ch := range buf {
		if ch >= 'A' && ch <= 'Z' {
			buf[i] += 'a' - 'A'
		}
	}
}

func bytesTrimSpace(buf []byte) []byte {
	i, j := 0, len(buf)
	for i < j && (buf[i] == ' ' || buf[i] == '\t') {
		i++
	}
	for j > i && (buf[j-1] == ' ' || buf[j-1] == '\t') {
		j--
	}
	return buf[i:j]
}

// fileExtension returns the extension of the last path segment, leading dot
// included, or `` when the segment has none.
func fileExtension(path string) string {
	slash := strings.LastIndexByte(path, '/')
	dot := strings.LastIndexByte(path, '.')
	if dot == -1 || dot < slash {
		return ``
	}
	return path[dot:]
}

func baseName(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx != -1 {
		return path[idx+1:]
	}
	return path
}

// joinPaths joins two fragments with exactly one slash between them.
func joinPaths(a, b string) string {
	if a == `` {
		return b
	}
	if b == `` {
		return a
	}

	aSlash := a[len(a)-1] == '/'
	bSlash := b[0] == '/'
	switch {
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash:
		return a + `/` + b
	}
	return a + b
}

func formatSize(size int64) string {
	switch {
	case size < 1024:
		return strconv.FormatInt(size, 10) + ` B`
	case size < 1024*1024:
		return strconv.FormatInt(size/1024, 10) + ` KB`
	}
	return strconv.FormatInt(size/(1024*1024), 10) + ` MB`
}
