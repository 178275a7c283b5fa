package unread

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/catchup-hq/catchup/internal/llm"
	"github.com/catchup-hq/catchup/internal/slack"
)

const promptPreamble = "Below is a conversation between coworkers on a chat platform. " +
	"Messages are in chronological order, one per line, prefixed with the sender's name."

const promptInstruction = "Summarize the conversation in at most two short sentences, " +
	"mentioning who did what. Use the names exactly as written. Do not editorialize."

// Shown per stream when no completion provider is configured, so the absence
// of a summary is distinguishable from a summary that failed.
const notConfiguredNote = "(summarization not configured)"

var mentionPattern = regexp.MustCompile(`<@([A-Z0-9]+)>`)

// aliasPattern matches a pseudonym however the model echoes it back: case
// shifted, separator dropped, spaced, doubled or swapped for an underscore.
var aliasPattern = regexp.MustCompile(`(?i)\bperson[\s_-]*([0-9]+)\b`)

type Summarizer struct {
	provider  llm.Provider
	maxTokens int

	// Serializes stream writes against the progress callback so a caller can
	// safely read the streams from inside it.
	mu sync.Mutex
}

func NewSummarizer(provider llm.Provider, maxTokens int) *Summarizer {
	return &Summarizer{provider: provider, maxTokens: maxTokens}
}

// Enrich fills Summary and PromptParts on every stream, in place. Streams
// are summarized concurrently; progress, when non-nil, is invoked after each
// stream's fields are written, with no other stream write racing it. A stream
// whose completion fails carries a parenthesized note instead of a summary
// and never fails the load. A nil Summarizer marks every stream as
// unconfigured rather than leaving summaries blank.
func (s *Summarizer) Enrich(ctx context.Context, streams []slack.UnreadStream, progress func()) {
	if s == nil || s.provider == nil {
		note := notConfiguredNote
		for i := range streams {
			streams[i].Summary = &note
			if progress != nil {
				progress()
			}
		}
		return
	}

	var wg sync.WaitGroup
	for i := range streams {
		wg.Add(1)
		go func(stream *slack.UnreadStream) {
			defer wg.Done()
			summary, parts := s.summarize(ctx, stream)

			s.mu.Lock()
			stream.Summary = &summary
			stream.PromptParts = parts
			if progress != nil {
				progress()
			}
			s.mu.Unlock()
		}(&streams[i])
	}
	wg.Wait()
}

func (s *Summarizer) summarize(ctx context.Context, stream *slack.UnreadStream) (string, []string) {
	aliases := assignPseudonyms(stream)
	parts := promptParts(stream, aliases)

	completion, err := s.provider.Complete(ctx, llm.Request{
		PromptParts:     parts,
		MaxOutputTokens: s.maxTokens,
	})
	if err != nil {
		return fmt.Sprintf("(%s)", err), parts
	}

	text := completion.Text
	if completion.FinishReason == "length" {
		text = truncateAtWord(text)
	}
	return restoreNames(text, aliases), parts
}

// aliasTable holds one stream's pseudonym assignment in both directions.
type aliasTable struct {
	byID     map[string]string // sender id -> pseudonym
	realName map[string]string // pseudonym -> display name
}

// assignPseudonyms maps each distinct sender in the stream to an opaque
// Person-<n> token, in order of first appearance. Message content goes to
// the model, but real names and user ids do not; the real name is restored
// in the returned summary.
func assignPseudonyms(stream *slack.UnreadStream) aliasTable {
	table := aliasTable{byID: map[string]string{}, realName: map[string]string{}}
	assign := func(msg slack.Message) {
		if msg.FromID == "" {
			return
		}
		if _, ok := table.byID[msg.FromID]; ok {
			return
		}
		alias := fmt.Sprintf("Person-%d", len(table.byID)+1)
		table.byID[msg.FromID] = alias
		table.realName[alias] = msg.FromName
	}

	if stream.RootMessage != nil {
		assign(*stream.RootMessage)
	}
	for _, msg := range stream.Messages {
		assign(msg)
	}
	return table
}

func promptParts(stream *slack.UnreadStream, aliases aliasTable) []string {
	var lines []string
	appendLine := func(msg slack.Message) {
		text := mentionPattern.ReplaceAllStringFunc(msg.Text, func(mention string) string {
			id := mentionPattern.FindStringSubmatch(mention)[1]
			if alias, ok := aliases.byID[id]; ok {
				return alias
			}
			return mention
		})
		lines = append(lines, fmt.Sprintf("%s: %s", aliases.byID[msg.FromID], text))
	}

	if stream.RootMessage != nil {
		appendLine(*stream.RootMessage)
	}
	for _, msg := range stream.Messages {
		appendLine(msg)
	}

	return []string{promptPreamble, strings.Join(lines, "\n"), promptInstruction}
}

// restoreNames swaps pseudonyms back to bolded real names. The match is
// deliberately loose about casing and the separator, since models mangle
// tokens freely; an unknown Person number is left as written.
func restoreNames(text string, aliases aliasTable) string {
	text = aliasPattern.ReplaceAllStringFunc(text, func(match string) string {
		num := strings.TrimLeftFunc(match, func(r rune) bool { return r < '0' || r > '9' })
		if name, ok := aliases.realName["Person-"+num]; ok {
			return "**" + name + "**"
		}
		return match
	})
	// Adjacent bolded names leave doubled markers behind.
	return strings.ReplaceAll(text, "****", "")
}

// truncateAtWord drops the trailing partial word of a completion that hit
// the token limit and marks the cut.
func truncateAtWord(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.LastIndex(text, " "); i > 0 {
		text = text[:i]
	}
	return text + "..."
}
