package importer

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	reBold        = regexp.MustCompile(`(\*\*|__)(.+?)(\*\*|__)`)
	reItalic      = regexp.MustCompile(`\*([^*]+)\*|_([^_]+)_`)
	reInlineCode  = regexp.MustCompile("`([^`]+)`")
	reLink        = regexp.MustCompile(`\[(.*?)\]\((.*?)\)(\^)?`)
	reImage       = regexp.MustCompile(`!\[(.*?)\]\((.*?)\)(\{[^}]*\})?`)
	reOrderedItem = regexp.MustCompile(`^\d+\.\s`)
)

// block is the kind of HTML element currently open.
type block int

const (
	none block = iota
	para
	list
	orderedList
	quote
	code
)

var closeTags = map[block]string{
	para:        "</p>",
	list:        "</ul>",
	orderedList: "</ol>",
	quote:       "</blockquote>",
	code:        "</code></pre>",
}

type converter struct {
	out  strings.Builder
	open block
}

func (c *converter) close() {
	c.out.WriteString(closeTags[c.open])
	c.open = none
}

// enter switches to block b, closing whatever else is open.
func (c *converter) enter(b block, tag string) bool {
	if c.open == b {
		return false
	}
	c.close()
	c.out.WriteString(tag)
	c.open = b
	return true
}

// ToHTML converts the legacy blog's markdown dialect into the HTML stored as
// an entry body. Legacy image sizing suffixes ("{style|w|h}") are dropped.
func ToHTML(md string) string {
	var c converter
	for _, raw := range strings.Split(md, "\n") {
		line := strings.TrimRight(raw, "\r")

		if strings.HasPrefix(line, "```") {
			if c.open == code {
				c.close()
				continue
			}
			lang := strings.TrimSpace(line[3:])
			if lang != "" {
				c.enter(code, `<pre><code class="language-`+html.EscapeString(lang)+`">`)
			} else {
				c.enter(code, "<pre><code>")
			}
			continue
		}
		if c.open == code {
			c.out.WriteString(html.EscapeString(line))
			c.out.WriteByte('\n')
			continue
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			c.close()
		case strings.HasPrefix(line, "---"):
			c.close()
			c.out.WriteString("<hr/>")
		case strings.HasPrefix(line, "#"):
			level := len(line) - len(strings.TrimLeft(line, "#"))
			if level > 6 || !strings.HasPrefix(line[level:], " ") {
				c.paragraph(trimmed)
				continue
			}
			c.close()
			h := strconv.Itoa(level)
			c.out.WriteString("<h" + h + ">" + inline(strings.TrimSpace(line[level:])) + "</h" + h + ">")
		case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "):
			c.enter(list, "<ul>")
			c.out.WriteString("<li>" + inline(strings.TrimSpace(line[2:])) + "</li>")
		case reOrderedItem.MatchString(line):
			c.enter(orderedList, "<ol>")
			c.out.WriteString("<li>" + inline(strings.TrimSpace(reOrderedItem.ReplaceAllString(line, ""))) + "</li>")
		case strings.HasPrefix(line, "> "):
			if !c.enter(quote, "<blockquote>") {
				c.out.WriteByte(' ')
			}
			c.out.WriteString(inline(strings.TrimSpace(line[2:])))
		default:
			c.paragraph(trimmed)
		}
	}
	c.close()
	return c.out.String()
}

func (c *converter) paragraph(text string) {
	if !c.enter(para, "<p>") {
		c.out.WriteByte(' ')
	}
	c.out.WriteString(inline(text))
}

// inline escapes s and applies images, links, code spans and emphasis.
func inline(s string) string {
	s = html.EscapeString(s)

	// Code spans are swapped out first so emphasis never reaches inside them.
	var spans []string
	s = reInlineCode.ReplaceAllStringFunc(s, func(m string) string {
		spans = append(spans, "<code>"+reInlineCode.FindStringSubmatch(m)[1]+"</code>")
		return "\x00" + strconv.Itoa(len(spans)-1) + "\x00"
	})

	s = reImage.ReplaceAllStringFunc(s, func(m string) string {
		match := reImage.FindStringSubmatch(m)
		src := safeURL(match[2])
		if src == "" {
			return match[1]
		}
		return `<img src="` + src + `" alt="` + match[1] + `" loading="lazy"/>`
	})
	s = reLink.ReplaceAllStringFunc(s, func(m string) string {
		match := reLink.FindStringSubmatch(m)
		href := safeURL(match[2])
		if href == "" {
			return match[1]
		}
		attrs := ""
		if match[3] == "^" {
			attrs = ` target="_blank" rel="noopener noreferrer"`
		}
		return `<a href="` + href + `"` + attrs + `>` + match[1] + `</a>`
	})

	s = outsideTags(s, func(seg string) string {
		seg = reBold.ReplaceAllString(seg, "<strong>$2</strong>")
		return reItalic.ReplaceAllString(seg, "<em>$1$2</em>")
	})

	for i, span := range spans {
		s = strings.Replace(s, "\x00"+strconv.Itoa(i)+"\x00", span, 1)
	}
	return s
}

// outsideTags applies fn to the text between HTML tags only, so emphasis
// rules never touch attribute values such as URLs.
func outsideTags(s string, fn func(string) string) string {
	var b strings.Builder
	for s != "" {
		lt := strings.IndexByte(s, '<')
		if lt < 0 {
			b.WriteString(fn(s))
			break
		}
		b.WriteString(fn(s[:lt]))
		gt := strings.IndexByte(s[lt:], '>')
		if gt < 0 {
			b.WriteString(s[lt:])
			break
		}
		b.WriteString(s[lt : lt+gt+1])
		s = s[lt+gt+1:]
	}
	return b.String()
}

// safeURL returns the escaped URL, or "" for schemes that cannot appear in a
// body.
func safeURL(raw string) string {
	val := strings.TrimSpace(html.UnescapeString(raw))
	if val == "" {
		return ""
	}
	if strings.HasPrefix(val, "/") || strings.HasPrefix(val, "#") {
		return html.EscapeString(val)
	}
	u, err := url.Parse(val)
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "mailto":
		return html.EscapeString(val)
	}
	return ""
}
