// Package directory renders the public list of approved groups and splits it
// into platform-sized messages.
package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"

	"groupdirectory_bot/internal/domain"
)

// MaxMessageLength is the platform limit for one message, in UTF-16 code units.
const MaxMessageLength = 4096

// Header opens every rendered directory.
const Header = "*🌟 Active Groups 🌟*"

const (
	lineSeparator = "\n"
	bullet        = "· "
)

// Source lists the groups eligible for the directory.
type Source interface {
	FindActiveWithLink(ctx context.Context) ([]domain.Group, error)
}

// Directory builds directory messages from the group store.
type Directory struct {
	source Source
	limit  int
}

// New constructs a Directory using MaxMessageLength.
func New(source Source) *Directory {
	return &Directory{source: source, limit: MaxMessageLength}
}

// Messages returns the rendered directory split into sendable chunks.
func (d *Directory) Messages(ctx context.Context) ([]string, error) {
	groups, err := d.source.FindActiveWithLink(ctx)
	if err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}

	return Chunk(Render(groups), d.limit), nil
}

// Lines returns the header followed, when any group is listed, by a blank
// spacer and one bullet per group.
// Groups that are not active or lack a link are skipped; the rest are ordered
// by name using byte-wise comparison.
func Lines(groups []domain.Group) []string {
	listed := make([]domain.Group, 0, len(groups))
	for _, group := range groups {
		if group.Listed() {
			listed = append(listed, group)
		}
	}
	sort.SliceStable(listed, func(i, j int) bool {
		return listed[i].Name < listed[j].Name
	})

	lines := make([]string, 0, len(listed)+2)
	lines = append(lines, Header)
	if len(listed) > 0 {
		lines = append(lines, "")
	}
	for _, group := range listed {
		lines = append(lines, bullet+"["+linkText(group)+"]("+strings.TrimSpace(group.InviteLink)+")")
	}

	return lines
}

// Render joins Lines into one message body.
func Render(groups []domain.Group) string {
	return strings.Join(Lines(groups), lineSeparator)
}

// Chunk splits text into pieces of at most limit UTF-16 units, breaking only
// between lines. Empty text is one empty line and yields one empty chunk.
// When every line fits within limit, joining the result with "\n" yields text
// again. A single line longer than limit is cut at rune boundaries instead, and
// its pieces end up in separate chunks.
func Chunk(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}

	var (
		chunks  []string
		current strings.Builder
		size    int
	)

	flush := func() {
		chunks = append(chunks, current.String())
		current.Reset()
		size = 0
	}

	for i, line := range strings.Split(text, lineSeparator) {
		lineSize := Length(line)

		if lineSize > limit {
			if i > 0 {
				flush()
			}
			pieces := hardSplit(line, limit)
			chunks = append(chunks, pieces[:len(pieces)-1]...)
			current.WriteString(pieces[len(pieces)-1])
			size = Length(pieces[len(pieces)-1])
			continue
		}

		if i == 0 {
			current.WriteString(line)
			size = lineSize
			continue
		}

		if size+1+lineSize > limit {
			flush()
			current.WriteString(line)
			size = lineSize
			continue
		}

		current.WriteString(lineSeparator)
		current.WriteString(line)
		size += 1 + lineSize
	}
	flush()

	return chunks
}

// Length counts s in UTF-16 code units, the unit the platform limits by.
func Length(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func hardSplit(line string, limit int) []string {
	var (
		pieces  []string
		current strings.Builder
		size    int
	)

	for _, r := range line {
		width := utf16.RuneLen(r)
		if size+width > limit {
			pieces = append(pieces, current.String())
			current.Reset()
			size = 0
		}
		current.WriteRune(r)
		size += width
	}

	return append(pieces, current.String())
}

func linkText(group domain.Group) string {
	name := strings.TrimSpace(group.Name)
	name = strings.NewReplacer("[", "", "]", "").Replace(name)
	if name == "" {
		return fmt.Sprintf("%d", group.GroupID)
	}
	return name
}
