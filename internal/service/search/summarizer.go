package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/zhouzirui/gemini-assistant/backend/internal/logger"
)

const maxSnippetRunes = 300

// Searcher is satisfied by *Client.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Summarizer renders search hits as the assistant's markdown reply.
type Summarizer struct {
	searcher Searcher
	log      *log.Logger
}

func NewSummarizer(searcher Searcher) *Summarizer {
	return &Summarizer{searcher: searcher, log: logger.WithPrefix("search")}
}

// Summarize never returns an error; failures become the error message text.
func (s *Summarizer) Summarize(ctx context.Context, query string) string {
	results, err := s.searcher.Search(ctx, query)
	if err != nil {
		s.log.Error("web search failed", "query", query, "err", err)
		return ErrorText(query)
	}
	return Format(query, results)
}

// ErrorText is the reply used when the search itself fails.
func ErrorText(query string) string {
	return fmt.Sprintf("❌ **Search Error**: Unable to perform web search for \"%s\". Please try again or check your connection.", query)
}

// Format builds the numbered markdown list.
func Format(query string, results []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 **Web Search Results for \"%s\"**\n\n", query)

	if len(results) == 0 {
		b.WriteString("No results found. Try rephrasing the query.")
		return b.String()
	}

	for i, r := range results {
		fmt.Fprintf(&b, "**%d. %s**\n", i+1, r.Title)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "%s\n", truncateRunes(r.Snippet, maxSnippetRunes))
		}
		fmt.Fprintf(&b, "🔗 Source: [%s](%s)\n\n", r.DisplayURL, r.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
