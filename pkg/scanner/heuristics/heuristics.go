// Package heuristics runs cheap, deterministic pattern checks over one
// document to produce high-confidence entity candidates without any model
// call. Every check is precision-biased: silence beats a weak guess, because
// recall is the extraction capability's job.
package heuristics

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/KikDevKik/MyWorld-sub004/pkg/entity"
)

// Doc is one document's text plus the metadata the checks key off.
type Doc struct {
	DocumentID string
	Filename   string
	Text       string
}

// Strategy is a single-shot named check returning at most one candidate.
// Strategies are tried in declared order; the first hit wins.
type Strategy struct {
	Name  string
	Check func(Doc) *entity.Candidate
}

// Strategies is the ordered single-shot list: front matter, then validated
// header, then key-value header, then the draft heuristic. Container
// detection runs independently of this list.
var Strategies = []Strategy{
	{Name: "front-matter", Check: frontMatter},
	{Name: "header-traits", Check: headerWithTraits},
	{Name: "key-value", Check: keyValueHeader},
	{Name: "draft", Check: draftNote},
}

// Extract runs container detection plus the first matching single-shot
// strategy over one document.
func Extract(doc Doc) []entity.Candidate {
	out := containerCandidates(doc)

	for _, s := range Strategies {
		if c := s.Check(doc); c != nil {
			out = append(out, *c)
			break
		}
	}
	return out
}

const (
	headScanLines     = 30
	keyValueScanLines = 10
	maxRawContent     = 1200
	minNameLen        = 2
	maxNameLen        = 60
)

// genericNames rejects container-list names that are structure, not entities.
var genericNames = map[string]bool{
	"chapter": true, "intro": true, "introduction": true, "notes": true,
	"note": true, "todo": true, "index": true, "summary": true, "misc": true,
	"other": true, "others": true, "ideas": true, "outline": true,
	"capitulo": true, "resumen": true, "notas": true, "otros": true,
	"varios": true, "general": true, "info": true, "background": true,
}

// genericTitles are prose headings that must not be promoted to entities.
var genericTitles = map[string]bool{
	"chapter": true, "intro": true, "introduction": true, "prologue": true,
	"epilogue": true, "notes": true, "summary": true, "outline": true,
	"ideas": true, "worldbuilding": true, "timeline": true, "todo": true,
	"capitulo": true, "prologo": true, "epilogo": true, "notas": true,
	"resumen": true, "apuntes": true,
}

// draftStoplist excludes capitalized keys that are note structure rather
// than names in informal documents.
var draftStoplist = map[string]bool{
	"nota": true, "idea": true, "plot": true, "trama": true, "titulo": true,
	"title": true, "todo": true, "tema": true, "escena": true, "scene": true,
	"fecha": true, "date": true, "capitulo": true, "chapter": true,
}

var containerHints = []string{
	"roster", "cast", "list", "characters", "personajes", "bestiary",
	"bestiario", "lista", "npcs", "criaturas", "facciones",
}

var draftHints = []string{"idea", "draft", "apunte", "borrador", "wip", "nota"}

// traitKeyRe recognizes character-sheet keys that validate a heading as an
// entity name rather than ordinary prose.
var traitKeyRe = regexp.MustCompile(`(?i)^\s*[-*]?\s*\**(role|age|species|faction|race|class|occupation|gender|rol|edad|especie|faccion|facción|raza|clase|genero|género|ocupacion|ocupación)\**\s*:`)

// keyValueRe matches explicit Name:/Character: lines, with optional bullet
// and bold markup.
var keyValueRe = regexp.MustCompile(`(?i)^\s*[-*]?\s*\**(name|character|nombre|personaje)\**\s*:\s*\**([^*\n]+?)\**\s*$`)

// capKeyRe matches a capitalized "Word:" pattern at line start.
var capKeyRe = regexp.MustCompile(`^([A-ZÁÉÍÓÚÑ][\p{L}'\-]+)\s*:\s+\S`)

var headingRe = regexp.MustCompile(`^#\s+(.+?)\s*$`)

// rawContentStops mark trailing sheet sections that get stripped from the
// retained block text.
var rawContentStops = []string{"gustos:", "odia:", "likes:", "hates:", "dislikes:"}

// =============================================================================
// Check 1: container detection
// =============================================================================

func containerCandidates(doc Doc) []entity.Candidate {
	if !filenameMatches(doc.Filename, containerHints) {
		return nil
	}

	var out []entity.Candidate
	for _, block := range splitBlocks(doc.Text) {
		name := blockName(block)
		if !plausibleName(name) || containerTitle(name) {
			continue
		}
		out = append(out, entity.Candidate{
			Name:             name,
			Kind:             entity.KindUnknown,
			Tier:             entity.TierLimbo,
			Confidence:       85,
			Reasoning:        "list detection",
			Source:           entity.SourceContainerList,
			SourceDocumentID: doc.DocumentID,
			FoundIn:          []string{doc.Filename},
			RawContent:       trimRawContent(block),
		})
	}
	return out
}

// splitBlocks cuts a list-like body at heading and top-level bullet
// boundaries. Continuation lines stay with their block.
func splitBlocks(text string) []string {
	lines := strings.Split(text, "\n")
	var blocks []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			b := strings.TrimSpace(strings.Join(current, "\n"))
			if b != "" {
				blocks = append(blocks, b)
			}
			current = nil
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		boundary := strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "- ") ||
			strings.HasPrefix(trimmed, "* ")
		if boundary {
			flush()
		}
		current = append(current, line)
	}
	flush()
	return blocks
}

var boldNameRe = regexp.MustCompile(`^[-*]?\s*\*\*([^*:]+?)\**\s*(?::|$)`)
var bulletKeyRe = regexp.MustCompile(`^[-*]\s+([A-ZÁÉÍÓÚÑ][\p{L}' \-]*?)\s*:\s`)

// blockName pulls an entity name from a block's first lines: heading text,
// bold bullet text, or a capitalized "Key: Value" bullet.
func blockName(block string) string {
	lines := strings.SplitN(block, "\n", 3)
	for i, line := range lines {
		if i > 1 {
			break
		}
		trimmed := strings.TrimSpace(line)
		if m := headingAnyRe.FindStringSubmatch(trimmed); m != nil {
			return strings.TrimSpace(m[1])
		}
		if m := boldNameRe.FindStringSubmatch(trimmed); m != nil {
			return strings.TrimSpace(m[1])
		}
		if m := bulletKeyRe.FindStringSubmatch(trimmed); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

var headingAnyRe = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*$`)

// containerTitle rejects list page titles like "Cast of Characters" that
// would otherwise pass the genericity filter word by word.
func containerTitle(name string) bool {
	for _, word := range strings.Fields(strings.ToLower(name)) {
		word = strings.Trim(word, ".,:;!?")
		for _, h := range containerHints {
			if word == h {
				return true
			}
		}
	}
	return false
}

func plausibleName(name string) bool {
	if name == "" {
		return false
	}
	runes := []rune(name)
	if len(runes) < minNameLen || len(runes) > maxNameLen {
		return false
	}
	return !genericNames[strings.ToLower(name)]
}

// trimRawContent truncates a block and strips trailing preference sections
// ("Gustos:/Odia:" style) that only add noise to enrichment.
func trimRawContent(block string) string {
	lower := strings.ToLower(block)
	cut := len(block)
	for _, stop := range rawContentStops {
		if idx := strings.Index(lower, stop); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	out := strings.TrimSpace(block[:cut])
	if runes := []rune(out); len(runes) > maxRawContent {
		out = string(runes[:maxRawContent])
	}
	return out
}

// =============================================================================
// Check 2: structured front matter
// =============================================================================

func frontMatter(doc Doc) *entity.Candidate {
	body, ok := frontMatterBlock(doc.Text)
	if !ok {
		return nil
	}

	var meta struct {
		Name    string `yaml:"name"`
		Type    string `yaml:"type"`
		Role    string `yaml:"role"`
		Species string `yaml:"species"`
		Avatar  string `yaml:"avatar"`
	}
	if err := yaml.Unmarshal([]byte(body), &meta); err != nil {
		return nil
	}
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		return nil
	}

	kind := entity.ParseKind(meta.Type)
	if kind == entity.KindUnknown && meta.Species != "" {
		kind = entity.KindCreature
	}

	return &entity.Candidate{
		Name:             name,
		Kind:             kind,
		Tier:             entity.TierAnchor,
		Confidence:       100,
		Reasoning:        "front matter",
		Source:           entity.SourceFrontMatter,
		SourceDocumentID: doc.DocumentID,
		FoundIn:          []string{doc.Filename},
		Role:             strings.TrimSpace(meta.Role),
		Avatar:           strings.TrimSpace(meta.Avatar),
	}
}

// frontMatterBlock returns the YAML between leading --- fences, if present.
func frontMatterBlock(text string) (string, bool) {
	trimmed := strings.TrimLeft(text, "\ufeff\n\r ")
	if !strings.HasPrefix(trimmed, "---") {
		return "", false
	}
	rest := trimmed[3:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// =============================================================================
// Check 3: top-level header validated by trait keys
// =============================================================================

func headerWithTraits(doc Doc) *entity.Candidate {
	lines := headLines(doc.Text, headScanLines)

	var title string
	for _, line := range lines {
		if m := headingRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			title = strings.TrimSpace(m[1])
			break
		}
	}
	if title == "" || genericTitles[strings.ToLower(title)] || !plausibleName(title) {
		return nil
	}

	// A bare heading is just prose; a trait key nearby makes it a sheet.
	validated := false
	for _, line := range lines {
		if traitKeyRe.MatchString(line) {
			validated = true
			break
		}
	}
	if !validated {
		return nil
	}

	return &entity.Candidate{
		Name:             title,
		Kind:             entity.KindUnknown,
		Tier:             entity.TierAnchor,
		Confidence:       90,
		Reasoning:        "validated header",
		Source:           entity.SourceHeaderTraits,
		SourceDocumentID: doc.DocumentID,
		FoundIn:          []string{doc.Filename},
	}
}

// =============================================================================
// Check 4: explicit Name:/Character: line
// =============================================================================

func keyValueHeader(doc Doc) *entity.Candidate {
	for _, line := range headLines(doc.Text, keyValueScanLines) {
		m := keyValueRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[2])
		if !plausibleName(name) {
			continue
		}
		return &entity.Candidate{
			Name:             name,
			Kind:             entity.KindUnknown,
			Tier:             entity.TierAnchor,
			Confidence:       90,
			Reasoning:        "key-value header",
			Source:           entity.SourceKeyValue,
			SourceDocumentID: doc.DocumentID,
			FoundIn:          []string{doc.Filename},
		}
	}
	return nil
}

// =============================================================================
// Check 5: draft/limbo heuristic
// =============================================================================

func draftNote(doc Doc) *entity.Candidate {
	if !filenameMatches(doc.Filename, draftHints) {
		return nil
	}

	for _, line := range headLines(doc.Text, headScanLines) {
		m := capKeyRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		name := m[1]
		if draftStoplist[strings.ToLower(name)] || !plausibleName(name) {
			continue
		}
		return &entity.Candidate{
			Name:             name,
			Kind:             entity.KindUnknown,
			Tier:             entity.TierLimbo,
			Confidence:       80,
			Reasoning:        "draft heuristic",
			Source:           entity.SourceDraftHeuristic,
			SourceDocumentID: doc.DocumentID,
			FoundIn:          []string{doc.Filename},
		}
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func headLines(text string, n int) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return lines
}

func filenameMatches(filename string, hints []string) bool {
	base := strings.ToLower(filename)
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	for _, h := range hints {
		if strings.Contains(base, h) {
			return true
		}
	}
	return false
}
