package export

import (
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"sort"
	"strconv"
	"strings"
)

// PayloadToHTML renders a section payload. Rich-text documents
// ({"type":"doc",...}) render as prose; other JSON renders as nested
// definition lists, lists and text.
func PayloadToHTML(payload json.RawMessage) template.HTML {
	if len(payload) == 0 {
		return ""
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return template.HTML("<pre>" + html.EscapeString(string(payload)) + "</pre>")
	}
	var b strings.Builder
	renderValue(&b, value)
	return template.HTML(b.String())
}

func renderValue(b *strings.Builder, value any) {
	switch v := value.(type) {
	case nil:
	case string:
		b.WriteString(html.EscapeString(v))
	case bool:
		if v {
			b.WriteString("Yes")
		} else {
			b.WriteString("No")
		}
	case float64:
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	case []any:
		if len(v) == 0 {
			return
		}
		b.WriteString("<ul>\n")
		for _, item := range v {
			b.WriteString("<li>")
			renderValue(b, item)
			b.WriteString("</li>\n")
		}
		b.WriteString("</ul>\n")
	case map[string]any:
		if kind, _ := v["type"].(string); kind == "doc" {
			renderRich(b, v)
			return
		}
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		b.WriteString("<dl>\n")
		for _, key := range keys {
			fmt.Fprintf(b, "<dt>%s</dt><dd>", html.EscapeString(humanize(key)))
			renderValue(b, v[key])
			b.WriteString("</dd>\n")
		}
		b.WriteString("</dl>\n")
	}
}

// renderRich handles the rich-text node tree written by the section editors.
func renderRich(b *strings.Builder, node map[string]any) {
	kind, _ := node["type"].(string)
	children := func() {
		items, _ := node["content"].([]any)
		for _, item := range items {
			if child, ok := item.(map[string]any); ok {
				renderRich(b, child)
			}
		}
	}
	wrap := func(tag string) {
		fmt.Fprintf(b, "<%s>", tag)
		children()
		fmt.Fprintf(b, "</%s>\n", tag)
	}

	switch kind {
	case "doc":
		children()
	case "paragraph":
		wrap("p")
	case "heading":
		level := 2
		if attrs, ok := node["attrs"].(map[string]any); ok {
			if lvl, ok := attrs["level"].(float64); ok && lvl >= 1 && lvl <= 6 {
				level = int(lvl)
			}
		}
		wrap("h" + strconv.Itoa(level))
	case "bulletList":
		wrap("ul")
	case "orderedList":
		wrap("ol")
	case "listItem":
		wrap("li")
	case "blockquote":
		wrap("blockquote")
	case "hardBreak":
		b.WriteString("<br>")
	case "text":
		text, _ := node["text"].(string)
		marks, _ := node["marks"].([]any)
		b.WriteString(markText(text, marks))
	default:
		children()
	}
}

func markText(text string, marks []any) string {
	out := html.EscapeString(text)
	for i := len(marks) - 1; i >= 0; i-- {
		mark, ok := marks[i].(map[string]any)
		if !ok {
			continue
		}
		switch mark["type"] {
		case "bold":
			out = "<strong>" + out + "</strong>"
		case "italic":
			out = "<em>" + out + "</em>"
		case "link":
			href := ""
			if attrs, ok := mark["attrs"].(map[string]any); ok {
				href, _ = attrs["href"].(string)
			}
			out = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), out)
		}
	}
	return out
}

// humanize turns "decisionMakers" or "market_share" into "Decision makers" / "Market share".
func humanize(key string) string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	for _, r := range key {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case r >= 'A' && r <= 'Z':
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	if len(words) == 0 {
		return key
	}
	joined := strings.Join(words, " ")
	return strings.ToUpper(joined[:1]) + joined[1:]
}
