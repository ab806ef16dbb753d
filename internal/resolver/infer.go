package resolver

import (
	"strings"

	"github.com/haverlock/argus/pkg/types"
)

// typeKeywords maps each entity type to the descriptor words that vote
// for it. Matching is on whole lowercase words.
var typeKeywords = map[string][]string{
	types.EntityTypePerson:  {"person", "people", "man", "woman", "child", "visitor", "pedestrian", "intruder", "face"},
	types.EntityTypeVehicle: {"car", "truck", "van", "vehicle", "suv", "motorcycle", "bike", "bicycle", "sedan", "pickup"},
	types.EntityTypeAnimal:  {"dog", "cat", "animal", "raccoon", "deer", "bird", "squirrel", "coyote", "fox"},
	types.EntityTypePackage: {"package", "parcel", "box", "delivery", "envelope"},
}

// attributeWords are descriptor words carried into the entity
// signature, keyed by attribute name.
var attributeWords = map[string][]string{
	"color": {"white", "black", "gray", "grey", "silver", "red", "blue", "green", "brown", "yellow", "orange", "tan"},
	"size":  {"small", "large", "big", "tall", "short"},
}

// InferType classifies an event descriptor into an entity type by
// counting keyword hits per type. No hits, or a tie between the top
// two types, yields unknown.
func InferType(descriptor string) string {
	words := tokenize(descriptor)
	if len(words) == 0 {
		return types.EntityTypeUnknown
	}

	scores := make(map[string]int)
	for _, word := range words {
		for entityType, keywords := range typeKeywords {
			for _, kw := range keywords {
				if word == kw {
					scores[entityType]++
					break
				}
			}
		}
	}

	best := types.EntityTypeUnknown
	bestScore := 0
	tied := false
	for entityType, score := range scores {
		switch {
		case score > bestScore:
			best = entityType
			bestScore = score
			tied = false
		case score == bestScore && score > 0:
			tied = true
		}
	}

	if bestScore == 0 || tied {
		return types.EntityTypeUnknown
	}
	return best
}

// ExtractAttributes pulls descriptive signature attributes out of the
// descriptor. The first hit per attribute wins, matching the order the
// words appear in the descriptor.
func ExtractAttributes(descriptor, entityType string) map[string]string {
	words := tokenize(descriptor)
	if len(words) == 0 {
		return nil
	}

	attrs := make(map[string]string)
	for _, word := range words {
		for name, values := range attributeWords {
			if _, done := attrs[name]; done {
				continue
			}
			for _, v := range values {
				if word == v {
					attrs[name] = normalizeAttr(v)
					break
				}
			}
		}
	}

	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

func normalizeAttr(v string) string {
	// Spelling variants collapse to one canonical value.
	if v == "grey" {
		return "gray"
	}
	if v == "big" {
		return "large"
	}
	return v
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}
