package core

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"pkt.systems/sitesmith/schema"
)

// DiscoverPages walks the workspace for HTML files and extracts the title
// and anchor targets of each. Parse failures skip the file; a broken page
// must not fail the turn.
func DiscoverPages(root string) ([]schema.PageInfo, error) {
	var pages []schema.PageInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "node_modules" || strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".html") {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		page := schema.PageInfo{Path: rel}
		if title, anchors, parseErr := parsePage(path); parseErr == nil {
			page.Title = title
			page.Anchors = anchors
		}
		pages = append(pages, page)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Path < pages[j].Path })
	return pages, nil
}

func parsePage(path string) (string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return "", nil, err
	}

	var title string
	var anchors []string
	seen := map[string]struct{}{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "a":
				for _, attr := range n.Attr {
					if attr.Key != "href" {
						continue
					}
					href := strings.TrimSpace(attr.Val)
					if href == "" {
						continue
					}
					if _, dup := seen[href]; dup {
						continue
					}
					seen[href] = struct{}{}
					anchors = append(anchors, href)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title, anchors, nil
}
