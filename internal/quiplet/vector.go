package quiplet

// Command is the numeric encoding of the SQL verb. The values are part of the
// trained artifact contract and must not be reordered.
type Command int

const (
	CommandOther  Command = -1
	CommandSelect Command = 0
	CommandInsert Command = 1
	CommandUpdate Command = 2
	CommandDelete Command = 3
	CommandCreate Command = 4
	CommandDrop   Command = 5
)

// String returns the SQL verb for a command code.
func (c Command) String() string {
	switch c {
	case CommandSelect:
		return "SELECT"
	case CommandInsert:
		return "INSERT"
	case CommandUpdate:
		return "UPDATE"
	case CommandDelete:
		return "DELETE"
	case CommandCreate:
		return "CREATE"
	case CommandDrop:
		return "DROP"
	default:
		return "OTHER"
	}
}

// FunctionVocabulary is the fixed set of SQL functions tracked in the
// function-usage bitmap, in vector order.
var FunctionVocabulary = []string{"COUNT", "SUM", "AVG", "MIN", "MAX", "NOW", "UPPER", "LOWER"}

func functionIndex(name string) (int, bool) {
	for i, fn := range FunctionVocabulary {
		if fn == name {
			return i, true
		}
	}
	return 0, false
}

// Vector is the structural fingerprint ("quiplet") of a SQL statement:
// the command verb plus projection, selection and function-usage bitmaps laid
// out in schema order.
type Vector struct {
	Command       Command
	RelProjected  []int
	AttrProjected [][]int
	RelSelected   []int
	AttrSelected  [][]int
	FuncUsed      []int
}

func newVector(schema *Schema) *Vector {
	v := &Vector{
		Command:       CommandOther,
		RelProjected:  make([]int, len(schema.Relations)),
		AttrProjected: make([][]int, len(schema.Relations)),
		RelSelected:   make([]int, len(schema.Relations)),
		AttrSelected:  make([][]int, len(schema.Relations)),
		FuncUsed:      make([]int, len(FunctionVocabulary)),
	}
	for i, rel := range schema.Relations {
		v.AttrProjected[i] = make([]int, len(rel.Attributes))
		v.AttrSelected[i] = make([]int, len(rel.Attributes))
	}
	return v
}

// Flatten serializes the vector into the fixed-width integer layout consumed
// by the classifier: command, relProjected, attrProjected rows, relSelected,
// attrSelected rows, function bits.
func (v *Vector) Flatten() []int {
	flat := make([]int, 0, v.dimension())
	flat = append(flat, int(v.Command))
	flat = append(flat, v.RelProjected...)
	for _, row := range v.AttrProjected {
		flat = append(flat, row...)
	}
	flat = append(flat, v.RelSelected...)
	for _, row := range v.AttrSelected {
		flat = append(flat, row...)
	}
	flat = append(flat, v.FuncUsed...)
	return flat
}

func (v *Vector) dimension() int {
	n := 1 + len(v.RelProjected) + len(v.RelSelected) + len(v.FuncUsed)
	for _, row := range v.AttrProjected {
		n += len(row)
	}
	for _, row := range v.AttrSelected {
		n += len(row)
	}
	return n
}
