// Package netstring implements the SCGI wire framing: a decimal-length-
// prefixed, comma-terminated block of NUL-separated header pairs followed
// by a raw body.
//
//	<len>:name\0value\0name\0value\0...,<body>
package netstring

import (
	"bytes"
	"fmt"
	"strconv"
)

// ScanLen looks for a complete "<digits>:" prefix in buf starting at
// offset 0. It reports the parsed length and the offset of the first
// byte after the colon. ok is false if buf does not yet contain a
// complete, valid prefix; err is non-nil if the prefix is malformed
// (non-digit before the colon, or empty digit run).
func ScanLen(buf []byte) (length int, headBeg int, ok bool, err error) {
	colon := bytes.IndexByte(buf, ':')
	if colon == -1 {
		if len(buf) > 0 && !isAllDigits(buf) {
			return 0, 0, false, fmt.Errorf("netstring: invalid length prefix %q", buf)
		}
		return 0, 0, false, nil
	}
	digits := buf[:colon]
	if len(digits) == 0 || !isAllDigits(digits) {
		return 0, 0, false, fmt.Errorf("netstring: invalid length prefix %q", digits)
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil || n < 0 {
		return 0, 0, false, fmt.Errorf("netstring: invalid length prefix %q", digits)
	}
	return n, colon + 1, true, nil
}

func isAllDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ParseHeaders splits an SCGI header block (the bytes between the colon
// and the trailing comma) into name/value pairs. Names are uppercased.
// Each pair is name\0value\0; a missing final NUL is tolerated, and a
// trailing unpaired name with no value is an error.
func ParseHeaders(block []byte) (map[string]string, error) {
	headers := make(map[string]string)
	if len(block) == 0 {
		return headers, nil
	}
	parts := bytes.Split(block, []byte{0})
	// Split on a block ending in \0 yields a trailing empty element; drop it.
	if len(parts) > 0 && len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}
	if len(parts)%2 != 0 {
		return nil, fmt.Errorf("netstring: odd number of header fields (%d)", len(parts))
	}
	for i := 0; i < len(parts); i += 2 {
		name := bytesToUpper(parts[i])
		headers[name] = string(parts[i+1])
	}
	return headers, nil
}

func bytesToUpper(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Encode renders headers and body as a complete SCGI netstring, primarily
// for tests exercising the encode/decode round trip. Header iteration
// order is not significant to SCGI, but CONTENT_LENGTH
// is always emitted first since it is mandatory and commonly relied upon
// by parsers that stop scanning once they've found it.
func Encode(order []string, headers map[string]string, body []byte) []byte {
	var block bytes.Buffer
	if v, ok := headers["CONTENT_LENGTH"]; ok {
		block.WriteString("CONTENT_LENGTH")
		block.WriteByte(0)
		block.WriteString(v)
		block.WriteByte(0)
	}
	for _, name := range order {
		if name == "CONTENT_LENGTH" {
			continue
		}
		block.WriteString(name)
		block.WriteByte(0)
		block.WriteString(headers[name])
		block.WriteByte(0)
	}
	out := make([]byte, 0, block.Len()+len(body)+16)
	out = append(out, []byte(strconv.Itoa(block.Len()))...)
	out = append(out, ':')
	out = append(out, block.Bytes()...)
	out = append(out, ',')
	out = append(out, body...)
	return out
}
