package htmlutil

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
)

var tracer = otel.Tracer("refwatch.lib.htmlutil")

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

type Anchor struct {
	Name string
	Href string
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

func CleanText(s string) string {
	s = removeNonPrintable(s)
	s = strings.Trim(s, " \t\n")
	return innerWhitespace.ReplaceAllString(s, " ")
}

func GetAnchors(ctx context.Context, sel *goquery.Selection) []Anchor {
	ctx, span := tracer.Start(ctx, "GetAnchors")
	defer span.End()

	anchors := []Anchor{}
	for _, n := range sel.Nodes {
		href := ""
		for _, a := range n.Attr {
			if a.Key == "href" {
				href = a.Val
				break
			}
		}

		link, err := url.Parse(href)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "got error while parsing url")
			continue
		}

		name := CleanText(GetText(n))
		linkStr := link.String()
		anchors = append(anchors, Anchor{
			Name: name,
			Href: linkStr,
		})
		span.AddEvent("anchor", trace.WithAttributes(
			attribute.String("name", name),
			attribute.String("url", linkStr),
		))
	}

	return anchors
}

var trailingCount = regexp.MustCompile(`\((\d+)\)\s*$`)

// AdjacentCount reads the non-negative integer rendered next to a
// clickable entry, e.g. "Submissions Needing Referees (12)". Returns
// -1 when no count is present.
func AdjacentCount(text string) int {
	groups := trailingCount.FindStringSubmatch(text)
	if len(groups) < 2 {
		return -1
	}
	n, err := strconv.Atoi(groups[1])
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// StripAdjacentCount removes the trailing "(n)" counter from an entry
// label, leaving the bare name.
func StripAdjacentCount(text string) string {
	return strings.TrimSpace(trailingCount.ReplaceAllString(text, ""))
}

// LabeledValue finds "Label: value" fragments inside an element's
// text. The label comparison ignores case and surrounding whitespace.
func LabeledValue(sel *goquery.Selection, label string) string {
	var found string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := CleanText(s.Text())
		idx := strings.Index(strings.ToLower(text), strings.ToLower(label))
		if idx < 0 {
			return true
		}
		rest := text[idx+len(label):]
		rest = strings.TrimLeft(rest, " :")
		if rest == "" {
			return true
		}
		found = rest
		return false
	})
	return found
}
