package render

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxPageNumber is the largest page a range may name.
const MaxPageNumber = 100000

// ParsePageRange parses a page range string like "1-5" or "1,3,5".
// An empty string selects all pages and yields nil.
func ParsePageRange(pageRange string) ([]int, error) {
	pageRange = strings.TrimSpace(pageRange)
	if pageRange == "" {
		return nil, nil
	}

	var pages []int
	for _, part := range strings.Split(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

// parseRangeToken parses either a single page token (e.g., "3") or a range token (e.g., "1-5").
func parseRangeToken(part string) ([]int, error) {
	if part == "" {
		return nil, errors.New("empty page token")
	}
	if strings.Contains(part, "-") {
		bounds := strings.Split(part, "-")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("invalid range format: %s", part)
		}
		start, err := parsePageNumber(bounds[0])
		if err != nil {
			return nil, fmt.Errorf("invalid start page: %s", bounds[0])
		}
		end, err := parsePageNumber(bounds[1])
		if err != nil {
			return nil, fmt.Errorf("invalid end page: %s", bounds[1])
		}
		if start > end {
			return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
		}
		out := make([]int, 0, end-start+1)
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
		return out, nil
	}
	page, err := parsePageNumber(part)
	if err != nil {
		return nil, fmt.Errorf("invalid page number: %s", part)
	}
	return []int{page}, nil
}

func parsePageNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.New("page numbers start at 1")
	}
	if n > MaxPageNumber {
		return 0, fmt.Errorf("page %d exceeds the maximum of %d", n, MaxPageNumber)
	}
	return n, nil
}

// SelectPages resolves a page range against a document of pageCount pages.
// Duplicates are dropped and pages beyond the document are ignored; the
// order of first appearance is kept.
func SelectPages(pageRange string, pageCount int) ([]int, error) {
	requested, err := ParsePageRange(pageRange)
	if err != nil {
		return nil, err
	}
	if requested == nil {
		if pageCount <= 0 {
			return nil, ErrNoPages
		}
		all := make([]int, pageCount)
		for i := range all {
			all[i] = i + 1
		}
		return all, nil
	}
	seen := make(map[int]bool, len(requested))
	pages := make([]int, 0, len(requested))
	for _, p := range requested {
		if p > pageCount || seen[p] {
			continue
		}
		seen[p] = true
		pages = append(pages, p)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %q of %d pages", ErrNoPages, pageRange, pageCount)
	}
	return pages, nil
}
