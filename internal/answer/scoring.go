package answer

import (
	"sort"

	"github.com/google/uuid"
)

// PassThreshold is the accuracy (percent) at or above which a result passes.
const PassThreshold = 40.0

// KeyedQuestion is an active question reduced to what grading needs.
type KeyedQuestion struct {
	ID               uuid.UUID
	CorrectOptionIDs []uuid.UUID
}

// Selection is one stored answer row reduced to what grading needs.
type Selection struct {
	QuestionID       uuid.UUID
	SelectedOptionID uuid.UUID
	PointsEarned     int
	TimeSpentSeconds int
}

type QuestionScore struct {
	QuestionID uuid.UUID   `json:"questionId"`
	Answered   bool        `json:"answered"`
	IsCorrect  bool        `json:"isCorrect"`
	Reason     string      `json:"reason"`
	Selected   []uuid.UUID `json:"selected"`
	Correct    []uuid.UUID `json:"correct"`
}

type Score struct {
	TotalQuestions   int             `json:"totalQuestions"`
	CorrectAnswers   int             `json:"correctAnswers"`
	IncorrectAnswers int             `json:"incorrectAnswers"`
	Accuracy         float64         `json:"accuracy"`
	HasPassed        bool            `json:"hasPassed"`
	TotalPoints      int             `json:"totalPoints"`
	TotalTimeSpent   int             `json:"totalTimeSpent"`
	Breakdown        []QuestionScore `json:"breakdown"`
}

// Grade scores one user's selections against the exam's answer key. A
// question is correct only when the selected option set equals its correct
// set. Questions without correct options count toward TotalQuestions but
// can never be correct. Points and time are summed over every selection.
func Grade(questions []KeyedQuestion, selections []Selection) Score {
	byQuestion := make(map[uuid.UUID][]uuid.UUID, len(questions))
	out := Score{
		TotalQuestions: len(questions),
		Breakdown:      make([]QuestionScore, 0, len(questions)),
	}
	for _, s := range selections {
		byQuestion[s.QuestionID] = append(byQuestion[s.QuestionID], s.SelectedOptionID)
		out.TotalPoints += s.PointsEarned
		out.TotalTimeSpent += s.TimeSpentSeconds
	}

	for _, q := range questions {
		correct := normalizeIDSet(q.CorrectOptionIDs)
		selected := normalizeIDSet(byQuestion[q.ID])
		qs := QuestionScore{
			QuestionID: q.ID,
			Answered:   len(selected) > 0,
			Selected:   selected,
			Correct:    correct,
		}
		switch {
		case len(correct) == 0:
			qs.Reason = "no_answer_key"
		case !qs.Answered:
			qs.Reason = "unanswered"
		case equalSet(selected, correct):
			qs.IsCorrect = true
			qs.Reason = "correct"
			out.CorrectAnswers++
		default:
			qs.Reason = "wrong"
		}
		out.Breakdown = append(out.Breakdown, qs)
	}

	out.IncorrectAnswers = out.TotalQuestions - out.CorrectAnswers
	if out.TotalQuestions > 0 {
		out.Accuracy = float64(out.CorrectAnswers) / float64(out.TotalQuestions) * 100
	}
	out.HasPassed = out.Accuracy >= PassThreshold
	return out
}

func normalizeIDSet(in []uuid.UUID) []uuid.UUID {
	set := make(map[uuid.UUID]struct{}, len(in))
	for _, id := range in {
		if id == uuid.Nil {
			continue
		}
		set[id] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// equalSet expects both sides normalized.
func equalSet(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
