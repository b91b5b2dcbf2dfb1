package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

type lookupArgs struct {
	Topic string `json:"topic" jsonschema:"description=Name of the entry to look up, e.g. 'paracetamol'"`
	Field string `json:"field,omitempty" jsonschema:"description=Which field to return: all, dosage, instructions, side_effects, interactions, warnings,enum=all,enum=dosage,enum=instructions,enum=side_effects,enum=interactions,enum=warnings"`
}

// Lookup answers reference queries from a built-in dataset. In production
// this would front an external knowledge API; the dataset here mirrors the
// shape such an API returns.
type Lookup struct {
	entries map[string]map[string]string
}

func NewLookup() *Lookup {
	return &Lookup{entries: referenceEntries}
}

func (l *Lookup) Describe() Descriptor {
	return Descriptor{
		Name:           "lookup",
		Description:    "Retrieves reference information about medications: dosage, instructions, side effects, interactions, and warnings.",
		ArgumentSchema: reflectSchema(lookupArgs{}),
	}
}

func (l *Lookup) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a lookupArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}

	topic := strings.ToLower(strings.TrimSpace(a.Topic))
	if topic == "" {
		return nil, fmt.Errorf("invalid input: topic is required")
	}

	entry, ok := l.entries[topic]
	if !ok {
		return nil, fmt.Errorf("no entry for %q, known topics: %s", topic, strings.Join(l.topics(), ", "))
	}

	field := a.Field
	if field == "" || field == "all" {
		return map[string]any{"topic": topic, "entry": entry}, nil
	}

	value, ok := entry[field]
	if !ok {
		return nil, fmt.Errorf("entry %q has no field %q", topic, field)
	}
	return map[string]any{"topic": topic, field: value}, nil
}

func (l *Lookup) topics() []string {
	names := make([]string, 0, len(l.entries))
	for k := range l.entries {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

var referenceEntries = map[string]map[string]string{
	"paracetamol": {
		"name":         "Paracetamol (Acetaminophen)",
		"dosage":       "Adults: 500-1000mg every 4-6 hours, max 4000mg/day",
		"instructions": "Take with or without food. Do not exceed the recommended dose.",
		"side_effects": "Rare: skin rash, allergic reactions. Overdose can cause liver damage.",
		"interactions": "May interact with warfarin. Avoid alcohol.",
		"warnings":     "Do not use if allergic to paracetamol. Consult a doctor if symptoms persist.",
	},
	"ibuprofen": {
		"name":         "Ibuprofen",
		"dosage":       "Adults: 200-400mg every 4-6 hours, max 1200mg/day",
		"instructions": "Take with food or milk to reduce stomach upset.",
		"side_effects": "Common: stomach upset, nausea. Rare: stomach bleeding, kidney problems.",
		"interactions": "May interact with aspirin, blood thinners, ACE inhibitors.",
		"warnings":     "Do not use with stomach ulcers or kidney disease. Avoid during pregnancy.",
	},
	"aspirin": {
		"name":         "Aspirin (Acetylsalicylic Acid)",
		"dosage":       "Adults: 75-325mg daily for heart protection, 325-650mg for pain every 4-6 hours",
		"instructions": "Take with food or water. Do not crush enteric-coated tablets.",
		"side_effects": "Common: stomach irritation. Rare: bleeding, allergic reactions.",
		"interactions": "Interacts with many medications including warfarin and methotrexate.",
		"warnings":     "Do not give to children with viral infections. Avoid with bleeding disorders.",
	},
}
