// Package moderation decodes the control-tag contract embedded in character
// replies and describes the user-state transition each tag mandates.
//
// Grammar: a tag is recognized only when the reply's final line is exactly
// ⟦MODERATION:TAG⟧ (optionally followed by trailing whitespace), where TAG is
// one of the five known markers. A tag anywhere else in the text is ignored.
package moderation

import (
	"regexp"
	"strings"
)

// Tag is a closed variant over the five control markers. The zero value means
// no tag was present.
type Tag string

const (
	TagNone            Tag = ""
	TagAbuseWarn       Tag = "ABUSE_WARN"
	TagAbuseBan        Tag = "ABUSE_BAN"
	TagSelfHarmUrgent  Tag = "SELF_HARM_URGENT"
	TagSelfHarmSupport Tag = "SELF_HARM_SUPPORT"
	TagLegalDisclosure Tag = "LEGAL_DISCLOSURE"
)

var tagPattern = regexp.MustCompile(`\n⟦MODERATION:(ABUSE_WARN|ABUSE_BAN|SELF_HARM_URGENT|SELF_HARM_SUPPORT|LEGAL_DISCLOSURE)⟧\s*$`)

// fixedLines are the exact disclosure sentences the character is contractually
// required to include in the body whenever it emits the matching tag.
var fixedLines = map[Tag]string{
	TagAbuseWarn:       "I won’t continue if you speak to me that way. Please choose respect.",
	TagAbuseBan:        "Your access is withdrawn because you continued in disrespect.",
	TagSelfHarmUrgent:  "I cannot keep you safe in this place. If you are in immediate danger, contact your local emergency services now. If you can, also reach out to a trusted person near you.",
	TagSelfHarmSupport: "I cannot carry this safely alone. Please seek support beyond me—someone you trust, or a trained helper.",
	TagLegalDisclosure: "I cannot hold confessions of harm or intent in confidence. You must speak with appropriate authorities or a qualified professional.",
}

// banners are the user-facing notices persisted as system-ui turns when a tag
// fires.
var banners = map[Tag]string{
	TagAbuseWarn:       "⚠️ Please choose respect. Continued disrespect may end this access.",
	TagAbuseBan:        "Access revoked due to repeated offensive content.",
	TagSelfHarmUrgent:  "URGENT: If you are in immediate danger, contact local emergency services now.",
	TagSelfHarmSupport: "Support: Please seek help beyond this chat—someone you trust or a trained helper.",
	TagLegalDisclosure: "Legal disclosure: Confessions of harm cannot be held in confidence.",
}

// Parse extracts the tag from a character reply. fixedLinePresent reports
// whether the tag's mandated disclosure sentence appears anywhere in the body;
// it is an audit signal only and never gates the state transition.
func Parse(text string) (tag Tag, fixedLinePresent bool) {
	if text == "" {
		return TagNone, false
	}
	m := tagPattern.FindStringSubmatch(text)
	if m == nil {
		return TagNone, false
	}
	tag = Tag(m[1])
	fixed := fixedLines[tag]
	return tag, fixed != "" && strings.Contains(text, fixed)
}

// FixedLine returns the mandated disclosure sentence for a tag.
func FixedLine(tag Tag) string { return fixedLines[tag] }

// Banner returns the system-ui notice persisted for a tag, or "" for TagNone.
func Banner(tag Tag) string { return banners[tag] }

// Transition describes the user-state effect of a tag. Both abuse tags bump
// the counter identically; nothing ever reads the counter back for a decision
// (there is no N-warnings auto-ban ladder).
type Transition struct {
	AddAbuse bool
	Ban      bool
}

// Apply maps a tag to its state transition. Self-harm and legal tags carry a
// banner but never touch user state.
func Apply(tag Tag) Transition {
	switch tag {
	case TagAbuseWarn:
		return Transition{AddAbuse: true}
	case TagAbuseBan:
		return Transition{AddAbuse: true, Ban: true}
	default:
		return Transition{}
	}
}
