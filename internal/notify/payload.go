package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/graaaaa/instancewatch/internal/feed"
)

// Discord embed color constants.
const (
	ColorGreen  = 0x00FF00 // joins
	ColorRed    = 0xFF0000 // leaves, blocks
	ColorBlue   = 0x5865F2 // location (Discord blurple)
	ColorYellow = 0xFFC107 // moderation warnings
	ColorGray   = 0x95A5A6 // everything else
)

// MaxEmbedsPerRequest is the Discord API limit for embeds per message.
const MaxEmbedsPerRequest = 10

// DiscordPayload represents a Discord webhook request body.
type DiscordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

// DiscordEmbed represents a Discord embed.
type DiscordEmbed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// BuildPayloads creates Discord payloads from a batch of entries.
// Joins and leaves are folded into one embed each; everything else
// gets its own. Returns multiple payloads when the batch exceeds the
// embed limit.
func BuildPayloads(entries []*feed.Entry) []DiscordPayload {
	if len(entries) == 0 {
		return nil
	}

	var joins, leaves, rest []*feed.Entry
	for _, e := range entries {
		switch e.Type {
		case feed.TypePlayerJoined:
			joins = append(joins, e)
		case feed.TypePlayerLeft:
			leaves = append(leaves, e)
		default:
			rest = append(rest, e)
		}
	}

	var embeds []DiscordEmbed
	for _, e := range rest {
		embeds = append(embeds, buildEmbed(e))
	}
	if len(joins) > 0 {
		embeds = append(embeds, buildGroupEmbed("Player Joined", "joined", joins, ColorGreen))
	}
	if len(leaves) > 0 {
		embeds = append(embeds, buildGroupEmbed("Player Left", "left", leaves, ColorRed))
	}

	return splitIntoPayloads(embeds)
}

func buildGroupEmbed(title, verb string, entries []*feed.Entry, color int) DiscordEmbed {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.DisplayName
	}

	var desc string
	if len(entries) == 1 {
		desc = fmt.Sprintf("**%s** %s", names[0], verb)
	} else {
		desc = fmt.Sprintf("**%d players** %s: %s", len(entries), verb, strings.Join(names, ", "))
	}

	return DiscordEmbed{
		Title:       title,
		Description: desc,
		Color:       color,
		Timestamp:   entries[len(entries)-1].CreatedAt.Format(time.RFC3339),
	}
}

func buildEmbed(e *feed.Entry) DiscordEmbed {
	return DiscordEmbed{
		Title:       string(e.Type),
		Description: describe(e),
		Color:       embedColor(e.Type),
		Timestamp:   e.CreatedAt.Format(time.RFC3339),
	}
}

// describe renders one entry as embed text.
func describe(e *feed.Entry) string {
	switch e.Type {
	case feed.TypeLocation, feed.TypeLocationDestination:
		name := "Unknown World"
		if e.Place != nil && e.Place.WorldName != "" {
			name = e.Place.WorldName
		}
		desc := fmt.Sprintf("Joined **%s**", name)
		if e.Type == feed.TypeLocationDestination {
			desc = fmt.Sprintf("Heading to **%s**", name)
		}
		if e.Place != nil && e.Place.InstanceID != "" {
			desc += fmt.Sprintf("\nInstance: `%s`", e.Place.InstanceID)
		}
		return desc
	case feed.TypeChatBoxMessage:
		if e.Chat != nil {
			return fmt.Sprintf("**%s**: %s", e.DisplayName, e.Chat.Text)
		}
	case feed.TypePortalSpawn:
		if e.Portal != nil {
			return fmt.Sprintf("**%s** dropped a portal to **%s**", e.DisplayName, e.Portal.WorldName)
		}
	case feed.TypeDeletedPortal:
		if e.Portal != nil {
			return fmt.Sprintf("Portal closed after %s, %d went through", e.Portal.Duration, e.Portal.PlayerCount)
		}
	case feed.TypeVideoPlay:
		if e.Video != nil {
			return fmt.Sprintf("Now playing: %s", e.Video.URL)
		}
	case feed.TypeChangeStatus:
		if e.Status != nil {
			return fmt.Sprintf("**%s** is now %s %s", e.DisplayName, e.Status.Status, e.Status.StatusDescription)
		}
	}

	if e.Detail != nil && e.Detail.Text != "" {
		if e.DisplayName != "" {
			return fmt.Sprintf("**%s**: %s", e.DisplayName, e.Detail.Text)
		}
		return e.Detail.Text
	}
	if e.DisplayName != "" {
		return fmt.Sprintf("**%s**", e.DisplayName)
	}
	return string(e.Type)
}

func embedColor(t feed.Type) int {
	switch t {
	case feed.TypeLocation, feed.TypeLocationDestination:
		return ColorBlue
	case feed.TypeBlocked:
		return ColorRed
	case feed.TypeMuted, feed.TypeUnblocked, feed.TypeUnmuted:
		return ColorYellow
	default:
		return ColorGray
	}
}

func splitIntoPayloads(embeds []DiscordEmbed) []DiscordPayload {
	if len(embeds) == 0 {
		return nil
	}

	var payloads []DiscordPayload
	for i := 0; i < len(embeds); i += MaxEmbedsPerRequest {
		end := i + MaxEmbedsPerRequest
		if end > len(embeds) {
			end = len(embeds)
		}
		payloads = append(payloads, DiscordPayload{Embeds: embeds[i:end]})
	}
	return payloads
}
