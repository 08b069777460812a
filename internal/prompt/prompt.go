// Package prompt assembles platform-tailored AI prompts from brand and campaign context.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/PortNumber53/social-publisher/internal/models"
	"gopkg.in/yaml.v3"
)

// Separator delimits posts in a multi-platform completion.
const Separator = "===SEPARATOR==="

//go:embed rules.yaml
var rulesYAML []byte

type Rule struct {
	Label    string   `yaml:"label"`
	MaxChars int      `yaml:"max_chars"`
	Hashtags string   `yaml:"hashtags"`
	Tone     string   `yaml:"tone"`
	Guidance []string `yaml:"guidance"`
}

type Rules struct {
	Default   Rule            `yaml:"default"`
	Platforms map[string]Rule `yaml:"platforms"`
}

var defaultRules = mustParseRules(rulesYAML)

func mustParseRules(b []byte) *Rules {
	r, err := ParseRules(b)
	if err != nil {
		panic(fmt.Sprintf("prompt: embedded rules.yaml: %v", err))
	}
	return r
}

func ParseRules(b []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	if r.Default.MaxChars <= 0 {
		return nil, fmt.Errorf("default.max_chars must be positive")
	}
	return &r, nil
}

// RuleFor returns the style rule for a platform, falling back to the default.
func RuleFor(platform string) Rule {
	if r, ok := defaultRules.Platforms[strings.ToLower(strings.TrimSpace(platform))]; ok {
		return r
	}
	d := defaultRules.Default
	if platform != "" {
		d.Label = platform
	}
	return d
}

// Subject is what the post is about: a stored campaign or a free-form request.
type Subject struct {
	Campaign *models.Campaign
	Prompt   string
}

// Build returns the prompt for a single post on one platform.
func Build(brand *models.Brand, subject Subject, platform string, now time.Time) string {
	rule := RuleFor(platform)
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert social media copywriter. Write one %s post.\n", rule.Label)
	writeDate(&b, now)
	writeBrand(&b, brand)
	writeSubject(&b, subject)
	writeRule(&b, rule)
	b.WriteString("\nReturn only the post text, with no preamble, quotation marks or explanation.\n")
	return b.String()
}

// BuildMulti asks for one post per platform, in order, separated by Separator.
func BuildMulti(brand *models.Brand, subject Subject, platforms []string, now time.Time) string {
	if len(platforms) == 1 {
		return Build(brand, subject, platforms[0], now)
	}
	labels := make([]string, len(platforms))
	for i, p := range platforms {
		labels[i] = RuleFor(p).Label
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert social media copywriter. Write %d posts, one for each platform in this order: %s.\n",
		len(platforms), strings.Join(labels, ", "))
	writeDate(&b, now)
	writeBrand(&b, brand)
	writeSubject(&b, subject)
	for _, p := range platforms {
		writeRule(&b, RuleFor(p))
	}
	fmt.Fprintf(&b, "\nSeparate consecutive posts with a line containing only %s.\n", Separator)
	b.WriteString("Return only the post texts, with no headings, numbering, preamble or explanation.\n")
	return b.String()
}

// SplitPosts splits a completion on Separator, trimming whitespace and dropping empty segments.
func SplitPosts(text string) []string {
	parts := strings.Split(text, Separator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BuildJourneyMap asks for a customer journey map for the brand and request.
func BuildJourneyMap(brand *models.Brand, request string, now time.Time) string {
	var b strings.Builder
	b.WriteString("You are a marketing strategist. Create a customer journey map.\n")
	writeDate(&b, now)
	writeBrand(&b, brand)
	writeSubject(&b, Subject{Prompt: request})
	b.WriteString(`
Cover these stages in order: Awareness, Consideration, Decision, Retention, Advocacy.
For each stage give:
- the customer's goal and main question
- the touchpoints and channels where they meet the brand
- two or three concrete social content ideas
- one metric that shows the stage is working

Format the answer as Markdown with one "##" heading per stage.
`)
	return b.String()
}

func writeDate(b *strings.Builder, now time.Time) {
	fmt.Fprintf(b, "Today is %s.\n", now.Format("Monday, January 2, 2006"))
}

func writeBrand(b *strings.Builder, brand *models.Brand) {
	if brand == nil {
		return
	}
	fmt.Fprintf(b, "\nBrand: %s\n", brand.Name)
	writeField(b, "Description", brand.Description)
	writeField(b, "Voice", brand.Voice)
	writeField(b, "Target audience", brand.Audience)
	if len(brand.Keywords) > 0 {
		fmt.Fprintf(b, "Keywords: %s\n", strings.Join(brand.Keywords, ", "))
	}
}

func writeSubject(b *strings.Builder, s Subject) {
	if c := s.Campaign; c != nil {
		fmt.Fprintf(b, "\nCampaign: %s\n", c.Name)
		writeField(b, "Goal", c.Goal)
		writeField(b, "Description", c.Description)
	}
	if p := strings.TrimSpace(s.Prompt); p != "" {
		fmt.Fprintf(b, "\nRequest:\n%s\n", p)
	}
}

func writeRule(b *strings.Builder, r Rule) {
	fmt.Fprintf(b, "\n%s rules:\n", r.Label)
	fmt.Fprintf(b, "- Keep the post under %d characters.\n", r.MaxChars)
	if r.Hashtags != "" {
		fmt.Fprintf(b, "- Hashtags: %s\n", r.Hashtags)
	}
	if r.Tone != "" {
		fmt.Fprintf(b, "- Tone: %s\n", r.Tone)
	}
	for _, g := range r.Guidance {
		fmt.Fprintf(b, "- %s\n", g)
	}
}

func writeField(b *strings.Builder, label string, v *string) {
	if s := strings.TrimSpace(models.Deref(v)); s != "" {
		fmt.Fprintf(b, "%s: %s\n", label, s)
	}
}
