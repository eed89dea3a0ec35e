package scoring

// Kind tells the front end how to render a question.
type Kind string

const (
	KindSingle Kind = "single"
	KindMulti  Kind = "multi"
	KindText   Kind = "text"
	KindDate   Kind = "date"
)

// Option is one selectable answer and its weight (0-3).
type Option struct {
	Value  string `json:"value"`
	Label  string `json:"label"`
	Weight int    `json:"weight"`
}

// Question is one quiz step. MapTo is empty for unscored inputs.
type Question struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Kind    Kind     `json:"kind"`
	MapTo   Segment  `json:"mapTo,omitempty"`
	Options []Option `json:"options,omitempty"`
}

// Questions is the built-in questionnaire, in display order.
var Questions = []Question{
	{ID: "nome", Title: "Como podemos te chamar?", Kind: KindText},
	{ID: "birthdate", Title: "Qual a sua data de nascimento?", Kind: KindDate},
	{
		ID: "tempo_fim", Title: "Há quanto tempo o relacionamento terminou?", Kind: KindSingle, MapTo: Devastacao,
		Options: []Option{
			{Value: "0-7", Label: "Menos de uma semana", Weight: 3},
			{Value: "8-30", Label: "Entre uma semana e um mês", Weight: 2},
			{Value: "31-90", Label: "Entre um e três meses", Weight: 1},
			{Value: "90+", Label: "Mais de três meses", Weight: 0},
		},
	},
	{
		ID: "choro", Title: "Com que frequência você tem chorado?", Kind: KindSingle, MapTo: Devastacao,
		Options: []Option{
			{Value: "todo_dia", Label: "Todos os dias", Weight: 3},
			{Value: "semana", Label: "Algumas vezes por semana", Weight: 2},
			{Value: "raro", Label: "Raramente", Weight: 1},
			{Value: "nunca", Label: "Não tenho chorado", Weight: 0},
		},
	},
	{
		ID: "checagens", Title: "Quantas vezes por dia você olha as redes sociais da pessoa?", Kind: KindSingle, MapTo: Abstinencia,
		Options: []Option{
			{Value: "6+", Label: "Seis ou mais", Weight: 3},
			{Value: "3-5", Label: "De três a cinco", Weight: 2},
			{Value: "1-2", Label: "Uma ou duas", Weight: 1},
			{Value: "0", Label: "Nenhuma", Weight: 0},
		},
	},
	{
		ID: "vontade_contato", Title: "Você sente vontade de mandar mensagem?", Kind: KindSingle, MapTo: Abstinencia,
		Options: []Option{
			{Value: "sempre", Label: "O tempo todo", Weight: 3},
			{Value: "frequente", Label: "Com frequência", Weight: 2},
			{Value: "as_vezes", Label: "Às vezes", Weight: 1},
			{Value: "nunca", Label: "Nunca", Weight: 0},
		},
	},
	{
		ID: "culpa", Title: "Você sente que o término foi culpa sua?", Kind: KindSingle, MapTo: Interiorizacao,
		Options: []Option{
			{Value: "totalmente", Label: "Totalmente", Weight: 3},
			{Value: "em_parte", Label: "Em parte", Weight: 2},
			{Value: "pouco", Label: "Um pouco", Weight: 1},
			{Value: "nao", Label: "Não", Weight: 0},
		},
	},
	{
		ID: "isolamento", Title: "Você tem se afastado de amigos e família?", Kind: KindSingle, MapTo: Interiorizacao,
		Options: []Option{
			{Value: "muito", Label: "Muito", Weight: 3},
			{Value: "um_pouco", Label: "Um pouco", Weight: 2},
			{Value: "quase_nada", Label: "Quase nada", Weight: 1},
			{Value: "nao", Label: "Não", Weight: 0},
		},
	},
	{
		ID: "raiva", Title: "O que você sente quando pensa na pessoa?", Kind: KindSingle, MapTo: Ira,
		Options: []Option{
			{Value: "raiva_intensa", Label: "Raiva intensa", Weight: 3},
			{Value: "irritacao", Label: "Irritação", Weight: 2},
			{Value: "incomodo", Label: "Um incômodo leve", Weight: 1},
			{Value: "indiferenca", Label: "Indiferença", Weight: 0},
		},
	},
	{
		ID: "injustica", Title: "Você sente que foi tratado(a) de forma injusta?", Kind: KindSingle, MapTo: Ira,
		Options: []Option{
			{Value: "sim_muito", Label: "Sim, muito", Weight: 3},
			{Value: "sim", Label: "Sim", Weight: 2},
			{Value: "talvez", Label: "Talvez", Weight: 1},
			{Value: "nao", Label: "Não", Weight: 0},
		},
	},
	{
		ID: "planos", Title: "Você tem feito planos para o futuro?", Kind: KindSingle, MapTo: Superacao,
		Options: []Option{
			{Value: "muitos", Label: "Sim, vários", Weight: 3},
			{Value: "alguns", Label: "Alguns", Weight: 2},
			{Value: "comecando", Label: "Estou começando", Weight: 1},
			{Value: "nenhum", Label: "Nenhum", Weight: 0},
		},
	},
	{
		ID: "sentimento_hoje", Title: "Quais palavras descrevem você hoje?", Kind: KindMulti, MapTo: Superacao,
		Options: []Option{
			{Value: "leve", Label: "Leve", Weight: 3},
			{Value: "esperancoso", Label: "Esperançoso(a)", Weight: 2},
			{Value: "confuso", Label: "Confuso(a)", Weight: 1},
			{Value: "perdido", Label: "Perdido(a)", Weight: 0},
		},
	},
}

// Question looks up a question by id.
func (s *Scorer) Question(id string) (Question, bool) {
	for _, q := range s.questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}
