// Package channel implements the chat surfaces the agent lives on.
// Adapters convert platform events into inbound bus messages after an
// allow-list check; the Manager routes outbound messages back to the
// adapter that owns them.
package channel

import (
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// logDenied records a negative allow-list decision. The message itself
// is dropped silently.
func logDenied(logger *slog.Logger, channel, senderID string) {
	logger.Warn("sender not in allow list, dropping message",
		"channel", channel,
		"sender", senderID,
	)
}

// splitMessage splits content into chunks of at most maxRunes runes,
// preferring to cut on line breaks, then spaces. Limits are counted in
// runes because chat platforms cap message length in characters, not
// bytes.
func splitMessage(content string, maxRunes int) []string {
	if content == "" {
		return nil
	}
	if utf8.RuneCountInString(content) <= maxRunes {
		return []string{content}
	}

	var chunks []string
	for utf8.RuneCountInString(content) > maxRunes {
		window := content[:byteIndexOfRune(content, maxRunes)]
		cut := strings.LastIndex(window, "\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}
		if cut <= 0 {
			cut = len(window)
		}
		chunks = append(chunks, content[:cut])
		content = strings.TrimLeft(content[cut:], " \n")
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}

// byteIndexOfRune returns the byte offset of the nth rune in s, or
// len(s) when s has fewer runes.
func byteIndexOfRune(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}

// mediaKind guesses how to deliver a file from its extension.
func mediaKind(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "jpg", "jpeg", "png", "gif", "webp":
		return "photo"
	case "ogg", "oga":
		return "voice"
	case "mp3", "m4a", "wav", "aac":
		return "audio"
	default:
		return "document"
	}
}
