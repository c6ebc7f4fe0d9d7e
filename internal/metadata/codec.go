// Package metadata translates between a task's free-text description and
// its structured fields. Markers live on the description's last line, and
// only when that line contains nothing but recognized tokens; otherwise the
// whole description is plain prose.
package metadata

import (
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Joseda-hg/trellis/internal/model"
)

// Fields is the structured content extracted from a description.
type Fields struct {
	Prose                string
	Priority             model.Priority
	DueDate              *time.Time
	DueDateRaw           string
	Tags                 []string
	ParentID             string
	BlocksIDs            []string
	InverseParentIDs     []string
	InverseBlockedByIDs  []string
	RelatedIDs           []string
	LastLineMetadataOnly bool
}

// DueResolver turns a due-date expression (the text after '@') into a
// concrete date. The grammar is external to the codec; the codec only keeps
// the raw expression alongside whatever the resolver returns.
type DueResolver func(expr string, now time.Time) (time.Time, bool)

// Tokens are matched as whole whitespace-separated fields, so the anchored
// patterns can never match their inverse-prefixed counterparts ("-^x" is not
// a parent marker because '^' is not at the start of the field).
var (
	parentToken        = regexp.MustCompile(`^\^([a-zA-Z0-9]+)$`)
	blocksToken        = regexp.MustCompile(`^!([a-zA-Z0-9]+)$`)
	inverseParentToken = regexp.MustCompile(`^-\^([a-zA-Z0-9]+)$`)
	inverseBlockToken  = regexp.MustCompile(`^-!([a-zA-Z0-9]+)$`)
	relatedToken       = regexp.MustCompile(`^~([a-zA-Z0-9]+)$`)
	priorityToken      = regexp.MustCompile(`^p([123])$`)
	dueToken           = regexp.MustCompile(`^@(\S+)$`)
	tagToken           = regexp.MustCompile(`^#([a-zA-Z0-9_-]+)$`)
)

type Codec struct {
	resolve DueResolver
	now     func() time.Time
	cache   *lru.Cache[string, Fields]
}

func NewCodec(resolve DueResolver) *Codec {
	if resolve == nil {
		resolve = ResolveDueExpr
	}
	// Only the tokenization is memoized; 512 entries covers any realistic
	// working set. Due expressions resolve on every call, outside the
	// cache, so a relative marker like "@today" tracks the clock.
	cache, _ := lru.New[string, Fields](512)
	return &Codec{resolve: resolve, now: time.Now, cache: cache}
}

// Parse extracts structured fields from a description. If the last line
// contains anything besides recognized tokens, nothing is extracted and the
// whole description is prose.
func (c *Codec) Parse(description string) Fields {
	f, ok := c.cache.Get(description)
	if ok {
		f = cloneFields(f)
	} else {
		f = c.parse(description)
		c.cache.Add(description, cloneFields(f))
	}

	if f.DueDateRaw != "" {
		if resolved, ok := c.resolve(f.DueDateRaw, c.now()); ok {
			f.DueDate = &resolved
		}
	}
	return f
}

func (c *Codec) parse(description string) Fields {
	f := Fields{Prose: description}

	lastStart := strings.LastIndexByte(strings.TrimRight(description, "\n"), '\n') + 1
	lastLine := strings.TrimRight(description[lastStart:], "\n")
	tokens := strings.Fields(lastLine)
	if len(tokens) == 0 {
		return f
	}

	parsed := Fields{}
	for _, tok := range tokens {
		if m := inverseParentToken.FindStringSubmatch(tok); m != nil {
			parsed.InverseParentIDs = append(parsed.InverseParentIDs, m[1])
		} else if m := inverseBlockToken.FindStringSubmatch(tok); m != nil {
			parsed.InverseBlockedByIDs = append(parsed.InverseBlockedByIDs, m[1])
		} else if m := parentToken.FindStringSubmatch(tok); m != nil {
			if parsed.ParentID == "" {
				parsed.ParentID = m[1]
			}
		} else if m := blocksToken.FindStringSubmatch(tok); m != nil {
			parsed.BlocksIDs = append(parsed.BlocksIDs, m[1])
		} else if m := relatedToken.FindStringSubmatch(tok); m != nil {
			parsed.RelatedIDs = append(parsed.RelatedIDs, m[1])
		} else if m := priorityToken.FindStringSubmatch(tok); m != nil {
			parsed.Priority = model.Priority(int(m[1][0] - '0'))
		} else if m := dueToken.FindStringSubmatch(tok); m != nil {
			if parsed.DueDateRaw == "" {
				parsed.DueDateRaw = m[1]
			}
		} else if m := tagToken.FindStringSubmatch(tok); m != nil {
			parsed.Tags = append(parsed.Tags, strings.ToLower(m[1]))
		} else {
			// Unrecognized token means the line is ordinary prose.
			return f
		}
	}

	parsed.LastLineMetadataOnly = true
	parsed.Prose = strings.TrimRight(description[:lastStart], "\n")
	return parsed
}

// GetDisplayDescription strips the marker line for presentation without
// touching storage.
func (c *Codec) GetDisplayDescription(description string) string {
	f := c.Parse(description)
	if !f.LastLineMetadataOnly {
		return description
	}
	return f.Prose
}

// Serialize rebuilds a description from prose and structured fields. Tokens
// appear in a fixed canonical order so serializing parsed content is
// idempotent.
func (c *Codec) Serialize(prose string, f Fields) string {
	var tokens []string
	if f.ParentID != "" {
		tokens = append(tokens, "^"+f.ParentID)
	}
	for _, id := range f.BlocksIDs {
		tokens = append(tokens, "!"+id)
	}
	for _, id := range f.InverseParentIDs {
		tokens = append(tokens, "-^"+id)
	}
	for _, id := range f.InverseBlockedByIDs {
		tokens = append(tokens, "-!"+id)
	}
	for _, id := range f.RelatedIDs {
		tokens = append(tokens, "~"+id)
	}
	if f.Priority != model.PriorityNone {
		tokens = append(tokens, "p"+string(rune('0'+int(f.Priority))))
	}
	if f.DueDateRaw != "" {
		tokens = append(tokens, "@"+f.DueDateRaw)
	} else if f.DueDate != nil {
		tokens = append(tokens, "@"+f.DueDate.Format("2006-01-02"))
	}
	for _, tag := range f.Tags {
		tokens = append(tokens, "#"+strings.ToLower(tag))
	}

	prose = strings.TrimRight(prose, "\n")
	if len(tokens) == 0 {
		return prose
	}
	line := strings.Join(tokens, " ")
	if prose == "" {
		return line
	}
	return prose + "\n" + line
}

func cloneFields(f Fields) Fields {
	out := f
	out.Tags = append([]string(nil), f.Tags...)
	out.BlocksIDs = append([]string(nil), f.BlocksIDs...)
	out.InverseParentIDs = append([]string(nil), f.InverseParentIDs...)
	out.InverseBlockedByIDs = append([]string(nil), f.InverseBlockedByIDs...)
	out.RelatedIDs = append([]string(nil), f.RelatedIDs...)
	if f.DueDate != nil {
		d := *f.DueDate
		out.DueDate = &d
	}
	return out
}
