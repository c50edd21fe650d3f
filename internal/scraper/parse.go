package scraper

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// The source announces the rotation as "... du 22/08/2025 au 05/09/2025".
var windowPattern = regexp.MustCompile(`(\d{2}/\d{2}/\d{4})\s+au\s+(\d{2}/\d{2}/\d{4})`)

const sourceDateLayout = "02/01/2006"

// parseDutyPage extracts the duty window from the page title and the
// pharmacy rows from the listing table.
func parseDutyPage(doc *goquery.Document) (Window, []DutyPharmacy, error) {
	title := strings.TrimSpace(doc.Find("h1.text-center").First().Text())
	window, err := extractWindow(title)
	if err != nil {
		return Window{}, nil, err
	}

	var entries []DutyPharmacy
	doc.Find("table#datatable-buttons tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		name := strings.TrimSpace(cells.Eq(0).Find("b").First().Text())
		if name == "" {
			return
		}
		address := strings.TrimSpace(cells.Eq(1).Text())
		city := ""
		if idx := strings.Index(address, " - "); idx >= 0 {
			city = strings.TrimSpace(address[:idx])
		}
		entries = append(entries, DutyPharmacy{
			Name:    name,
			Address: address,
			City:    city,
			Phones:  cellLines(cells.Eq(2)),
		})
	})
	return window, entries, nil
}

func extractWindow(title string) (Window, error) {
	match := windowPattern.FindStringSubmatch(title)
	if match == nil {
		return Window{}, errors.New("duty page title carries no date range")
	}
	start, err := time.Parse(sourceDateLayout, match[1])
	if err != nil {
		return Window{}, fmt.Errorf("parse duty start date %s: %w", match[1], err)
	}
	end, err := time.Parse(sourceDateLayout, match[2])
	if err != nil {
		return Window{}, fmt.Errorf("parse duty end date %s: %w", match[2], err)
	}
	if end.Before(start) {
		return Window{}, fmt.Errorf("duty window ends %s before it starts %s", match[2], match[1])
	}
	return Window{
		StartDate: start.Format(dateLayout),
		EndDate:   end.Format(dateLayout),
	}, nil
}

// cellLines splits a table cell into its text fragments, one per child node,
// so numbers separated by <br> come out as separate entries.
func cellLines(cell *goquery.Selection) []string {
	var lines []string
	cell.Contents().Each(func(_ int, node *goquery.Selection) {
		for _, chunk := range strings.Split(node.Text(), "\n") {
			if line := strings.TrimSpace(chunk); line != "" {
				lines = append(lines, line)
			}
		}
	})
	return lines
}
