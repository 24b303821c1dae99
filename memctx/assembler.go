package memctx

import (
	"sort"
	"strings"
	"unicode"

	"github.com/wsyeabsera/clear-ai-sub003/session"
	"github.com/wsyeabsera/clear-ai-sub003/types"
)

// AssembleInput carries everything the assembler composes into one working
// context.
type AssembleInput struct {
	SessionID   string
	Topic       string
	State       session.State
	TokenBudget int
	Compressed  types.CompressionResult
	Degraded    bool
}

// Assemble composes the final WorkingMemoryContext. Pure composition: no
// store access, no scoring, no budget logic.
func Assemble(in AssembleInput) *types.WorkingMemoryContext {
	return &types.WorkingMemoryContext{
		ConversationID:    in.SessionID,
		CurrentTopic:      in.Topic,
		ActiveGoals:       in.State.ActiveOnly(),
		UserProfile:       in.State.UserProfile,
		TokenBudget:       in.TokenBudget,
		CompressedContent: in.Compressed.Summary,
		Memories:          in.Compressed.Kept,
		CompressionRatio:  in.Compressed.CompressionRatio,
		Degraded:          in.Degraded,
	}
}

// deriveTopic names the current topic from the most frequent meaningful
// terms across recent turns and the new message. The new message counts
// double so the topic tracks where the conversation is going, not where it
// has been.
func deriveTopic(recent []*types.EpisodicMemory, newMessage string) string {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	pos := 0
	tally := func(text string, weight int) {
		for _, term := range topicTerms(text) {
			if _, ok := firstSeen[term]; !ok {
				firstSeen[term] = pos
				pos++
			}
			counts[term] += weight
		}
	}

	tally(newMessage, 2)
	for _, m := range recent {
		tally(m.Content, 1)
	}
	if len(counts) == 0 {
		return ""
	}

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return firstSeen[terms[i]] < firstSeen[terms[j]]
	})

	if len(terms) > 3 {
		terms = terms[:3]
	}
	return strings.Join(terms, " ")
}

// topicTerms tokenizes text into lowercase word tokens, dropping short
// noise and common function words.
func topicTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 3 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"with": true, "you": true, "your": true, "have": true, "has": true,
	"that": true, "this": true, "not": true, "but": true, "what": true,
	"about": true, "can": true, "will": true, "just": true, "they": true,
	"them": true, "from": true, "then": true, "than": true, "its": true,
}
