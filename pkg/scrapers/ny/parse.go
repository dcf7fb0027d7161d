package ny

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DateLayout is the date format used throughout the DMM site
const DateLayout = "01/02/2006"

const (
	searchTableID   = "tblSearchedMatterExternal"
	criteriaLabelID = "GridPlaceHolder_lblSearchCriteriaValue"
	filingsTableID  = "tblPubDoc"
	filingsOverlay  = "GridPlaceHolder_upUpdatePanelGrd"
)

// ParseDockets extracts the search result rows. Columns are case number,
// matter type, matter subtype, date filed, title, organization.
func ParseDockets(page string) ([]DocketInfo, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	industry := ""
	if label := findByID(doc, criteriaLabelID); label != nil {
		industry = strings.TrimSpace(strings.Replace(textOf(label), "Industry Affected:", "", 1))
	}

	table := findByID(doc, searchTableID)
	if table == nil {
		return nil, fmt.Errorf("search results table %s not found", searchTableID)
	}

	var dockets []DocketInfo
	for _, cells := range tableRows(table) {
		if len(cells) < 6 {
			continue
		}
		id := cellText(cells[0])
		if id == "" {
			continue
		}
		dockets = append(dockets, DocketInfo{
			DocketID:         id,
			MatterType:       cellText(cells[1]),
			MatterSubtype:    cellText(cells[2]),
			DateFiled:        cellText(cells[3]),
			Title:            cellText(cells[4]),
			Organization:     cellText(cells[5]),
			IndustryAffected: industry,
		})
	}
	return dockets, nil
}

// ParseFilings extracts the public document rows for a docket. Columns are
// serial, date filed, document type, title (linked), organization, item
// number, file name. Relative links are resolved against base.
func ParseFilings(page, docketID string, base *url.URL) ([]FileData, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse docket %s: %w", docketID, err)
	}

	table := findByID(doc, filingsTableID)
	if table == nil {
		return nil, fmt.Errorf("docket %s: documents table %s not found", docketID, filingsTableID)
	}

	var files []FileData
	for _, cells := range tableRows(table) {
		if len(cells) < 7 {
			continue
		}

		link := ""
		if a := findAtom(cells[3], atom.A); a != nil {
			link = resolve(base, attr(a, "href"))
		}

		files = append(files, FileData{
			Serial:       cellText(cells[0]),
			DateFiled:    cellText(cells[1]),
			DocType:      cellText(cells[2]),
			Name:         cellText(cells[3]),
			URL:          link,
			Organization: cellText(cells[4]),
			ItemNo:       cellText(cells[5]),
			FileName:     cellText(cells[6]),
			DocketID:     docketID,
		})
	}
	return files, nil
}

// SortDockets orders dockets by filed date, newest first. Rows with an
// unparseable date sort last.
func SortDockets(dockets []DocketInfo) {
	sort.SliceStable(dockets, func(i, j int) bool {
		ti, erri := time.Parse(DateLayout, dockets[i].DateFiled)
		tj, errj := time.Parse(DateLayout, dockets[j].DateFiled)
		switch {
		case erri != nil:
			return false
		case errj != nil:
			return true
		}
		return ti.After(tj)
	})
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func findAtom(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findAtom(c, a); found != nil {
			return found
		}
	}
	return nil
}

// tableRows returns the td cells of every tr below n; header rows built
// from th come back empty
func tableRows(n *html.Node) [][]*html.Node {
	var rows [][]*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			var cells []*html.Node
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && c.DataAtom == atom.Td {
					cells = append(cells, c)
				}
			}
			rows = append(rows, cells)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return rows
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func cellText(n *html.Node) string {
	return strings.Join(strings.Fields(textOf(n)), " ")
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
