// Package scoring classifies a completed quiz into one of five recovery
// phases. ComputeSegment is pure: the same answers always give the same
// result, and no input makes it fail.
package scoring

// Segment is one of the five fixed phases.
type Segment string

const (
	Devastacao     Segment = "devastacao"
	Abstinencia    Segment = "abstinencia"
	Interiorizacao Segment = "interiorizacao"
	Ira            Segment = "ira"
	Superacao      Segment = "superacao"
)

// Priority is the tie-break order. An earlier segment wins equal totals.
var Priority = []Segment{Devastacao, Abstinencia, Interiorizacao, Ira, Superacao}

// Valid reports whether s is one of the five segments.
func (s Segment) Valid() bool {
	for _, p := range Priority {
		if s == p {
			return true
		}
	}
	return false
}

// Result is one scoring outcome. Scores always holds all five segments.
type Result struct {
	Segment    Segment         `json:"segment"`
	Scores     map[Segment]int `json:"scores"`
	TotalScore int             `json:"totalScore"`
}

// Scorer scores answers against a fixed question list.
type Scorer struct {
	questions []Question
	weights   map[string]map[string]int
}

// NewScorer indexes questions. Questions without MapTo are kept for the
// catalogue but never scored.
func NewScorer(questions []Question) *Scorer {
	s := &Scorer{questions: questions, weights: make(map[string]map[string]int)}
	for _, q := range questions {
		if q.MapTo == "" {
			continue
		}
		byValue := make(map[string]int, len(q.Options))
		for _, o := range q.Options {
			byValue[o.Value] = o.Weight
		}
		s.weights[q.ID] = byValue
	}
	return s
}

var defaultScorer = NewScorer(Questions)

// Default returns the scorer for the built-in questionnaire.
func Default() *Scorer { return defaultScorer }

// ComputeSegment scores answers with the built-in questionnaire.
func ComputeSegment(answers Answers) Result { return defaultScorer.ComputeSegment(answers) }

// Questions returns the catalogue this scorer uses.
func (s *Scorer) Questions() []Question { return s.questions }

// ComputeSegment sums option weights per mapped segment. Only the first
// value of a multi-value answer counts; unknown values and unmapped
// questions add nothing. The winner is the first segment in Priority whose
// total beats every earlier one, so an all-zero result is Devastacao.
func (s *Scorer) ComputeSegment(answers Answers) Result {
	scores := make(map[Segment]int, len(Priority))
	for _, seg := range Priority {
		scores[seg] = 0
	}
	total := 0
	for _, q := range s.questions {
		if q.MapTo == "" {
			continue
		}
		value, ok := answers[q.ID].First()
		if !ok {
			continue
		}
		w, ok := s.weights[q.ID][value]
		if !ok {
			continue
		}
		scores[q.MapTo] += w
		total += w
	}

	winner, best := Priority[0], -1
	for _, seg := range Priority {
		if scores[seg] > best {
			winner, best = seg, scores[seg]
		}
	}
	return Result{Segment: winner, Scores: scores, TotalScore: total}
}
