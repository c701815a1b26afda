// Package params extracts request parameters: split QUERY_STRING (and,
// for urlencoded POSTs, the request body) on any of '&', '=' or space,
// percent/plus-decode each token, and pair consecutive tokens as
// name/value. Multipart bodies are handled separately with the stdlib
// mime/multipart reader (no third-party multipart parser exists
// anywhere in the reference corpus, so this is the one place params
// intentionally stays on the standard library).
package params

import (
	"bytes"
	"mime"
	"mime/multipart"
	"strings"
	"unicode/utf8"
)

// Field is one multipart form field's decoded properties: its value (for
// plain fields) plus, when present, the metadata of an uploaded file.
type Field struct {
	Value       string
	Filename    string // non-empty for file parts
	ContentType string
	Data        []byte // file contents, for file parts
}

// Extract builds the params dict: split QUERY_STRING (and, for
// application/x-www-form-urlencoded POSTs, the body) on separators,
// decode, pair up; if contentType is multipart/form-data*, its parsed
// fields replace the form-derived portion entirely.
func Extract(queryString, contentType string, body []byte) map[string]Field {
	out := map[string]Field{}

	for name, value := range splitPairs(queryString) {
		out[name] = Field{Value: value}
	}

	mediaType, mediaParams, _ := mime.ParseMediaType(contentType)

	switch {
	case mediaType == "application/x-www-form-urlencoded" && len(body) > 0:
		for name, value := range splitPairs(string(body)) {
			out[name] = Field{Value: value}
		}
	case strings.HasPrefix(mediaType, "multipart/form-data"):
		if boundary, ok := mediaParams["boundary"]; ok {
			if fields, err := parseMultipart(body, boundary); err == nil {
				for name, f := range fields {
					out[name] = f
				}
			}
		}
	}

	return out
}

// splitPairs splits s on '&', '=' or space into decoded tokens, pairing
// consecutive tokens as name -> value. A dangling final token with no
// matching value is paired with "".
func splitPairs(s string) map[string]string {
	pairs := map[string]string{}
	if s == "" {
		return pairs
	}
	tokens := splitAnyByte(s, "&= ")
	for i := 0; i < len(tokens); i += 2 {
		name := Decode(tokens[i])
		value := ""
		if i+1 < len(tokens) {
			value = Decode(tokens[i+1])
		}
		pairs[name] = value
	}
	return pairs
}

// splitAnyByte splits s on any byte in cutset, unlike strings.FieldsFunc
// keeping empty tokens between adjacent separators: "a=&b=2" must split
// into ["a", "", "b", "2"] so that "a" pairs with "" rather than "b"
// sliding into the empty value's place.
func splitAnyByte(s, cutset string) []string {
	tokens := make([]string, 0, len(s)/2+1)
	start := 0
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(cutset, s[i]) >= 0 {
			tokens = append(tokens, s[start:i])
			start = i + 1
		}
	}
	return append(tokens, s[start:])
}

// Decode reverses application/x-www-form-urlencoded encoding: '+' becomes
// a space, and %XX becomes the raw byte; the resulting byte sequence is
// interpreted as UTF-8. Bytes that don't form valid UTF-8 are preserved
// as-is (Go strings are just byte sequences; the "interpret as UTF-8"
// rule only matters when re-encoding a rune, which %XX decoding never
// does).
func Decode(s string) string {
	var out bytes.Buffer
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '+':
			out.WriteByte(' ')
		case '%':
			if i+2 < len(s) {
				if hi, ok := hexVal(s[i+1]); ok {
					if lo, ok := hexVal(s[i+2]); ok {
						out.WriteByte(hi<<4 | lo)
						i += 2
						continue
					}
				}
			}
			out.WriteByte(c)
		default:
			out.WriteByte(c)
		}
	}
	return out.String()
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// Encode is the inverse of Decode: percent-escape everything but
// unreserved characters, and use '+' for space, so that
// Decode(Encode(s)) == s for all s over the byte alphabet.
func Encode(s string) string {
	var out bytes.Buffer
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == ' ':
			out.WriteByte('+')
		case isUnreserved(c):
			out.WriteByte(c)
		default:
			out.WriteByte('%')
			out.WriteByte(hexDigit(c >> 4))
			out.WriteByte(hexDigit(c & 0xf))
		}
	}
	return out.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + n - 10
}

func parseMultipart(body []byte, boundary string) (map[string]Field, error) {
	out := map[string]Field{}
	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		name := part.FormName()
		if name == "" {
			part.Close()
			continue
		}
		data, _ := readAllLimited(part, 32<<20)
		part.Close()
		f := Field{ContentType: part.Header.Get("Content-Type")}
		if fn := part.FileName(); fn != "" {
			f.Filename = fn
			f.Data = data
		} else {
			f.Value = decodeAsUTF8(data)
		}
		out[name] = f
	}
	return out, nil
}

func decodeAsUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}

func readAllLimited(p *multipart.Part, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(&limitedReader{r: p, remaining: limit})
	return buf.Bytes(), err
}

type limitedReader struct {
	r         *multipart.Part
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, errLimitReached
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}

var errLimitReached = &multipartLimitError{}

type multipartLimitError struct{}

func (*multipartLimitError) Error() string { return "multipart field exceeds size limit" }
