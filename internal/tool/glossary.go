package tool

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
)

// glossaryEntry is one term of the glossary.
type glossaryEntry struct {
	term        string
	description string
}

// Glossary explains words contained in a markdown glossary file.
//
// The file holds sections of the form "# TERM" followed by the term's
// description. A description of the form "-> OTHER" declares a reference
// to another term.
type Glossary struct {
	description string
	entries     map[string]glossaryEntry
	references  map[string]string
}

// LoadGlossary reads the glossary file at path.
func LoadGlossary(path, description string) (*Glossary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open glossary file: %w", err)
	}
	defer f.Close()

	if description == "" {
		description = "Tool to explain technical words or concepts."
	}
	g := &Glossary{
		description: description,
		entries:     map[string]glossaryEntry{},
		references:  map[string]string{},
	}

	var currentTerm string
	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "# ") {
			g.addEntry(currentTerm, strings.TrimSpace(sb.String()))
			currentTerm = strings.TrimSpace(line[2:])
			sb.Reset()
		} else if currentTerm != "" {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read glossary file: %w", err)
	}
	g.addEntry(currentTerm, strings.TrimSpace(sb.String()))

	log.Printf("Glossary loaded: %d entries", len(g.entries))
	return g, nil
}

func (g *Glossary) addEntry(term, description string) {
	if term == "" || description == "" {
		return
	}
	key := glossaryKey(term)
	if ref, ok := strings.CutPrefix(description, "-> "); ok {
		g.references[key] = glossaryKey(ref)
		return
	}
	if existing, ok := g.entries[key]; ok {
		log.Printf("WARN: duplicate glossary key (%s) of terms (%s) and (%s)", key, existing.term, term)
		return
	}
	g.entries[key] = glossaryEntry{term: term, description: description}
}

func glossaryKey(term string) string {
	key := strings.ToLower(term)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, key)
}

// Descriptor returns the glossary tool descriptor.
func (g *Glossary) Descriptor() Descriptor {
	return Descriptor{
		Name:        "glossary-tool",
		Title:       "Glossary Tool",
		Description: g.description,
		InputSchema: InputSchema{
			Type:          "object",
			PropertyNames: []string{"words"},
			Properties: map[string]Property{
				"words": {Type: "string", Description: "list of words or concepts to be explained."},
			},
			Required: []string{"words"},
		},
	}
}

// Call looks up the requested words and returns the matching glossary
// sections as a single text content item.
func (g *Glossary) Call(_ context.Context, params map[string]interface{}) []Content {
	args := Arguments(params)

	var words []string
	switch v := args["words"].(type) {
	case []interface{}:
		for _, w := range v {
			words = append(words, fmt.Sprint(w))
		}
	case nil:
	default:
		for _, w := range strings.Split(fmt.Sprint(v), ",") {
			words = append(words, strings.TrimSpace(w))
		}
	}

	processed := map[string]bool{}
	var sb strings.Builder
	for _, word := range words {
		key := glossaryKey(word)
		if ref, ok := g.references[key]; ok {
			key = ref
		}
		if processed[key] {
			continue
		}
		processed[key] = true
		entry, ok := g.entries[key]
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "# %s\n%s", entry.term, entry.description)
	}

	text := sb.String()
	if text == "" {
		text = "Unfortunately none of the words is known to the glossary tool"
	}
	return []Content{TextContent(text)}
}
