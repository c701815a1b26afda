// Package htmltags implements the fixed HTML element catalog exposed to
// templates as html.<tag>: each name serializes an element as
// "<tag k='v' ...>child1child2...</tag>", or a self-closing
// "<tag ... />" when there are no children.
package htmltags

import (
	"sort"
	"strings"

	gohtml "golang.org/x/net/html"
)

// Catalog is the fixed set of element names exposed as html.<name>.
// Kept as a set (not just documentation) so the sandbox host can
// validate that a template only invokes real catalog members.
var Catalog = buildCatalog()

func buildCatalog() map[string]bool {
	names := strings.Fields(`!DOCTYPE a abbr acronym address applet area article aside audio b base
		basefont bdi bdo big blockquote body br button canvas caption center cite code col colgroup
		data datalist dd del details dfn dialog dir div dl dt em embed fieldset figcaption figure font
		footer form frame frameset h1 head header hr html i iframe img input ins kbd label legend li
		link main map mark meta meter nav noframes noscript object ol optgroup option output p param
		picture pre progress q rp rt ruby s samp script section select small source span strike strong
		style sub summary sup svg table tbody td template textarea tfoot th thead time title tr track
		tt u ul var video wbr`)
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// Render serializes one element. attrs is rendered in a stable
// (sorted-by-key) order so output is deterministic across runs; children
// is the pre-rendered concatenation of nested content (the sandbox host
// passes already-serialized strings or child element output).
func Render(tag string, attrs map[string]string, children string) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(tag)

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteString("='")
		b.WriteString(gohtml.EscapeString(attrs[k]))
		b.WriteString("'")
	}

	if children == "" {
		b.WriteString(" />")
		return b.String()
	}

	b.WriteByte('>')
	b.WriteString(children)
	b.WriteString("</")
	b.WriteString(tag)
	b.WriteByte('>')
	return b.String()
}

// XML implements the sandbox's xml(...) helper: emit "<?xml " + content
// + "?>". content is already the caller's joined argument list — XML
// does not re-split or rejoin it, so any spacing the caller intended
// (including none, between empty arguments) passes through untouched.
func XML(content string) string {
	return "<?xml " + content + "?>"
}
