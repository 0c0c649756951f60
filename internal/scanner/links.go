// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scanner

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

// ExtractLinks pulls candidate download URLs out of a message body. HTML
// bodies are scanned for anchor hrefs, falling back to a raw URL pattern
// when parsing yields nothing. The result keeps only URLs containing one of
// the keywords, deduplicated in first-seen order.
func ExtractLinks(contentType, content string, keywords []string) []string {
	if strings.TrimSpace(content) == "" || len(keywords) == 0 {
		return nil
	}

	var raw []string
	if strings.EqualFold(contentType, "html") {
		raw = anchorHrefs(content)
		if len(raw) == 0 {
			raw = urlPattern.FindAllString(content, -1)
		}
	} else {
		raw = urlPattern.FindAllString(content, -1)
	}

	seen := make(map[string]bool, len(raw))
	var links []string
	for _, link := range raw {
		link = strings.TrimRight(link, ".,;)")
		if seen[link] {
			continue
		}
		lowered := strings.ToLower(link)
		if !containsAny(lowered, keywords) {
			continue
		}
		seen[link] = true
		links = append(links, link)
	}
	return links
}

// anchorHrefs walks the parsed HTML tree collecting http(s) anchor targets.
// html.Parse is tolerant of malformed markup and practically never errors
// on a string input.
func anchorHrefs(content string) []string {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil
	}

	var hrefs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && strings.HasPrefix(attr.Val, "http") {
					hrefs = append(hrefs, attr.Val)
					break
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	return hrefs
}
