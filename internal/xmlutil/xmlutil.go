// Package xmlutil holds the low-level XML helpers shared by the event
// parser (C2): namespace stripping for the attribute-heavy UPnP documents,
// and double-unescaping for the nested LastChange payloads AVTransport and
// RenderingControl wrap their state variables in.
package xmlutil

import (
	"html"
	"strings"
)

// UnescapeLastChange undoes the double XML-escaping Sonos applies to the
// LastChange property: the outer propertyset document escapes the inner
// Event document's angle brackets so it round-trips as character data.
func UnescapeLastChange(escaped string) string {
	return html.UnescapeString(escaped)
}

// StripNamespaces removes XML namespace prefixes and xmlns declarations
// from a document so that plain encoding/xml struct tags (which don't
// track namespace prefixes) match regardless of the prefix a given
// firmware revision chooses. Ported from the reference parser's
// strip_namespaces routine: a single pass over the byte stream that drops
// "prefix:" before tag and attribute names and skips xmlns/xmlns:prefix
// attributes entirely.
func StripNamespaces(doc string) string {
	var out strings.Builder
	out.Grow(len(doc))

	i := 0
	n := len(doc)
	for i < n {
		c := doc[i]
		if c != '<' {
			out.WriteByte(c)
			i++
			continue
		}

		// Pass through processing instructions, comments, and CDATA untouched.
		if i+1 < n && (doc[i+1] == '?' || doc[i+1] == '!') {
			end := strings.IndexByte(doc[i:], '>')
			if end < 0 {
				out.WriteString(doc[i:])
				break
			}
			out.WriteString(doc[i : i+end+1])
			i += end + 1
			continue
		}

		closeIdx := strings.IndexByte(doc[i:], '>')
		if closeIdx < 0 {
			out.WriteString(doc[i:])
			break
		}
		tag := doc[i : i+closeIdx+1]
		out.WriteString(stripTagNamespaces(tag))
		i += closeIdx + 1
	}

	return out.String()
}

// stripTagNamespaces rewrites a single "<...>" tag: the tag name loses its
// namespace prefix, xmlns/xmlns:* attributes are dropped, and remaining
// attribute names lose their prefix too.
func stripTagNamespaces(tag string) string {
	inner := tag[1 : len(tag)-1]
	closing := strings.HasPrefix(inner, "/")
	selfClosing := strings.HasSuffix(inner, "/")
	if closing {
		inner = inner[1:]
	}
	if selfClosing {
		inner = strings.TrimSuffix(inner, "/")
	}

	fields := splitTagFields(inner)
	if len(fields) == 0 {
		return tag
	}

	var b strings.Builder
	b.WriteByte('<')
	if closing {
		b.WriteByte('/')
	}
	b.WriteString(stripPrefix(fields[0]))

	for _, f := range fields[1:] {
		if isXMLNSAttr(f) {
			continue
		}
		eq := strings.IndexByte(f, '=')
		if eq < 0 {
			b.WriteByte(' ')
			b.WriteString(stripPrefix(f))
			continue
		}
		name := stripPrefix(f[:eq])
		b.WriteByte(' ')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(f[eq+1:])
	}
	if selfClosing {
		b.WriteByte('/')
	}
	b.WriteByte('>')
	return b.String()
}

func isXMLNSAttr(field string) bool {
	name := field
	if eq := strings.IndexByte(field, '='); eq >= 0 {
		name = field[:eq]
	}
	return name == "xmlns" || strings.HasPrefix(name, "xmlns:")
}

func stripPrefix(name string) string {
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

// splitTagFields splits a tag's interior into [name, attr, attr, ...],
// respecting double-quoted attribute values that may themselves contain
// spaces.
func splitTagFields(inner string) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == ' ' && !inQuotes:
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}
