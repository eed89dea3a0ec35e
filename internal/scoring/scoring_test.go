package scoring

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroScores() map[Segment]int {
	return map[Segment]int{Devastacao: 0, Abstinencia: 0, Interiorizacao: 0, Ira: 0, Superacao: 0}
}

func TestComputeSegmentEmpty(t *testing.T) {
	res := ComputeSegment(Answers{})
	assert.Equal(t, Devastacao, res.Segment)
	assert.Equal(t, zeroScores(), res.Scores)
	assert.Zero(t, res.TotalScore)

	assert.Equal(t, res, ComputeSegment(nil))
}

func TestComputeSegmentWeightSummation(t *testing.T) {
	res := ComputeSegment(Answers{
		"tempo_fim": Single("0-7"),
		"checagens": Single("6+"),
	})
	want := zeroScores()
	want[Devastacao] = 3
	want[Abstinencia] = 3
	assert.Equal(t, want, res.Scores)
	assert.Equal(t, 6, res.TotalScore)
	assert.Equal(t, Devastacao, res.Segment, "tie goes to the earlier segment")
}

func TestComputeSegmentTieBreak(t *testing.T) {
	res := ComputeSegment(Answers{
		"raiva":  Single("irritacao"),
		"planos": Single("alguns"),
	})
	assert.Equal(t, 2, res.Scores[Ira])
	assert.Equal(t, 2, res.Scores[Superacao])
	assert.Equal(t, Ira, res.Segment)
}

func TestComputeSegmentWinner(t *testing.T) {
	tests := []struct {
		name    string
		answers Answers
		want    Segment
		total   int
	}{
		{
			name:    "strict maximum wins regardless of priority",
			answers: Answers{"tempo_fim": Single("31-90"), "planos": Single("muitos"), "sentimento_hoje": Single("leve")},
			want:    Superacao,
			total:   7,
		},
		{
			name:    "interiorizacao",
			answers: Answers{"culpa": Single("totalmente"), "isolamento": Single("muito"), "raiva": Single("raiva_intensa")},
			want:    Interiorizacao,
			total:   9,
		},
		{
			name:    "all zero weights",
			answers: Answers{"tempo_fim": Single("90+"), "raiva": Single("indiferenca")},
			want:    Devastacao,
			total:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ComputeSegment(tt.answers)
			assert.Equal(t, tt.want, res.Segment)
			assert.Equal(t, tt.total, res.TotalScore)
		})
	}
}

func TestComputeSegmentIgnoresGaps(t *testing.T) {
	res := ComputeSegment(Answers{
		"tempo_fim":    Single("ontem"),
		"nome":         Single("Maria"),
		"birthdate":    Single("1990-02-15"),
		"nao_existe":   Single("x"),
		"checagens":    Answer{},
		"raiva":        Answer{"raiva_intensa", "indiferenca"},
		"sentimento_h": Single("leve"),
	})
	want := zeroScores()
	want[Ira] = 3
	assert.Equal(t, want, res.Scores)
	assert.Equal(t, 3, res.TotalScore)
	assert.Equal(t, Ira, res.Segment)
}

func TestComputeSegmentMultiValueUsesFirst(t *testing.T) {
	res := ComputeSegment(Answers{"sentimento_hoje": Answer{"confuso", "leve"}})
	assert.Equal(t, 1, res.Scores[Superacao])
}

func TestComputeSegmentDeterministic(t *testing.T) {
	answers := Answers{"tempo_fim": Single("8-30"), "culpa": Single("em_parte"), "injustica": Single("sim")}
	first := ComputeSegment(answers)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, ComputeSegment(answers))
	}
}

func TestComputeSegmentReturnsFreshScores(t *testing.T) {
	a := ComputeSegment(Answers{"raiva": Single("irritacao")})
	a.Scores[Ira] = 99
	b := ComputeSegment(Answers{"raiva": Single("irritacao")})
	assert.Equal(t, 2, b.Scores[Ira])
}

func TestAnswersUnmarshal(t *testing.T) {
	var got Answers
	require.NoError(t, json.Unmarshal([]byte(`{
		"tempo_fim": "0-7",
		"sentimento_hoje": ["leve", "confuso"],
		"checagens": 0,
		"nome": null,
		"raiva": {"odd": true}
	}`), &got))

	assert.Equal(t, Answer{"0-7"}, got["tempo_fim"])
	assert.Equal(t, Answer{"leve", "confuso"}, got["sentimento_hoje"])
	assert.Equal(t, Answer{"0"}, got["checagens"])
	assert.Empty(t, got["nome"])
	assert.Empty(t, got["raiva"])

	res := ComputeSegment(got)
	assert.Equal(t, 3, res.Scores[Devastacao])
	assert.Equal(t, 3, res.Scores[Superacao])
}

func TestCatalogueShape(t *testing.T) {
	s := Default()
	seen := map[string]bool{}
	for _, q := range s.Questions() {
		assert.False(t, seen[q.ID], "duplicate question %s", q.ID)
		seen[q.ID] = true
		if q.MapTo == "" {
			assert.Empty(t, q.Options, "%s is unscored", q.ID)
			continue
		}
		assert.True(t, q.MapTo.Valid(), q.ID)
		for _, o := range q.Options {
			assert.GreaterOrEqual(t, o.Weight, 0)
			assert.LessOrEqual(t, o.Weight, 3)
		}
	}
	for _, id := range []string{"nome", "birthdate", "tempo_fim", "checagens"} {
		_, ok := s.Question(id)
		assert.True(t, ok, id)
	}
}

func TestCustomScorer(t *testing.T) {
	s := NewScorer([]Question{
		{ID: "q1", MapTo: Superacao, Options: []Option{{Value: "a", Weight: 2}}},
		{ID: "q2", MapTo: Ira, Options: []Option{{Value: "b", Weight: 1}}},
	})
	res := s.ComputeSegment(Answers{"q1": Single("a"), "q2": Single("b")})
	assert.Equal(t, Superacao, res.Segment)
	assert.Equal(t, 3, res.TotalScore)
}
