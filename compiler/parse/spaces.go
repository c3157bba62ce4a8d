package parse

type (
	Spaces uint64

	// Blanks skips spaces and line comments.
	Blanks struct {
		Spaces  Spaces
		Comment byte
	}
)

var (
	SpaceAll = NewSpaces(' ', '\t', '\r', '\n')

	Blank = Blanks{Spaces: SpaceAll, Comment: ';'}
)

func NewSpaces(skip ...byte) (ss Spaces) {
	for _, q := range skip {
		if q >= 64 {
			panic("too high char code")
		}

		ss |= 1 << q
	}

	return
}

func (s Spaces) Skip(b []byte, st int) (i int) {
	i = st

	for i < len(b) && b[i] < 64 && s&(1<<b[i]) != 0 {
		i++
	}

	return
}

func (s Blanks) Skip(b []byte, st int) (i int) {
	i = s.Spaces.Skip(b, st)

	for i < len(b) && b[i] == s.Comment {
		for i < len(b) && b[i] != '\n' {
			i++
		}

		i = s.Spaces.Skip(b, i)
	}

	return i
}

func isDelim(b []byte, i int) bool {
	return i == len(b) || b[i] == '(' || b[i] == ')' || b[i] == ';' || b[i] < 64 && SpaceAll&(1<<b[i]) != 0
}
