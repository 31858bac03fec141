package question

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type OptionInput struct {
	Text         string  `json:"text"`
	ImageURL     *string `json:"imageUrl"`
	OptionLetter string  `json:"optionLetter"`
	IsCorrect    bool    `json:"isCorrect"`
}

// optionPlan is the set of writes that turns the stored options of a
// question into the incoming set, matched by letter.
type optionPlan struct {
	Update     []optionUpdate
	Insert     []OptionInput
	Delete     []uuid.UUID
	Deactivate []uuid.UUID
}

type optionUpdate struct {
	ID    uuid.UUID
	Input OptionInput
}

// planOptionDiff matches incoming options to existing ones by letter.
// Matches are updated in place, unknown letters are inserted, and options
// whose letter disappeared are deleted unless an answer references them,
// in which case they are only deactivated.
func planOptionDiff(existing []Option, incoming []OptionInput, referenced map[uuid.UUID]bool) optionPlan {
	byLetter := make(map[string]Option, len(existing))
	for _, o := range existing {
		byLetter[o.OptionLetter] = o
	}

	var plan optionPlan
	kept := make(map[uuid.UUID]bool, len(incoming))
	for _, in := range incoming {
		if cur, ok := byLetter[in.OptionLetter]; ok {
			plan.Update = append(plan.Update, optionUpdate{ID: cur.ID, Input: in})
			kept[cur.ID] = true
			continue
		}
		plan.Insert = append(plan.Insert, in)
	}

	for _, o := range existing {
		if kept[o.ID] {
			continue
		}
		if referenced[o.ID] {
			if o.IsActive {
				plan.Deactivate = append(plan.Deactivate, o.ID)
			}
			continue
		}
		plan.Delete = append(plan.Delete, o.ID)
	}
	return plan
}

// normalizeOptions upper-cases letters and rejects duplicates, multi-char
// letters and options with neither text nor image.
func normalizeOptions(options []OptionInput) ([]OptionInput, error) {
	seen := make(map[string]struct{}, len(options))
	out := make([]OptionInput, 0, len(options))
	for i, it := range options {
		letter := strings.ToUpper(strings.TrimSpace(it.OptionLetter))
		if !isLetter(letter) {
			return nil, fmt.Errorf("%w: options[%d].optionLetter must be a single letter", ErrInvalidInput, i)
		}
		if _, ok := seen[letter]; ok {
			return nil, fmt.Errorf("%w: duplicate optionLetter '%s'", ErrInvalidInput, letter)
		}
		seen[letter] = struct{}{}

		text := strings.TrimSpace(it.Text)
		image := trimmed(it.ImageURL)
		if text == "" && image == nil {
			return nil, fmt.Errorf("%w: options[%d] needs text or imageUrl", ErrInvalidInput, i)
		}
		out = append(out, OptionInput{
			Text:         text,
			ImageURL:     image,
			OptionLetter: letter,
			IsCorrect:    it.IsCorrect,
		})
	}
	return out, nil
}

func isLetter(s string) bool {
	return len(s) == 1 && s[0] >= 'A' && s[0] <= 'Z'
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
