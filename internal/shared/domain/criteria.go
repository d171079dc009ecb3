package domain

// ---------------- Operadores ----------------

type Operator string

const (
	OpEq  Operator = "="
	OpNeq Operator = "<>"
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpLt  Operator = "<"
	OpLte Operator = "<="
	OpIn  Operator = "IN"
)

type LogicalOperator string

const (
	OpAnd LogicalOperator = "AND"
	OpOr  LogicalOperator = "OR"
)

// ---------------- Criterion ----------------

// Criterion describe una condición neutral de filtrado.
// Para OpIn, Value es un []interface{}.
type Criterion struct {
	Field string
	Op    Operator
	Value interface{}
}

// ToConditions permite usar un Criterion suelto como Criteria.
func (c Criterion) ToConditions() []Criterion {
	return []Criterion{c}
}

// Criteria permite transformar filtros a condiciones neutrales
type Criteria interface {
	ToConditions() []Criterion
}

// ---------------- Composite Criteria ----------------

type CompositeCriteria struct {
	Operator  LogicalOperator
	Criterias []Criteria
}

func (c CompositeCriteria) ToConditions() []Criterion {
	var all []Criterion
	for _, crit := range c.Criterias {
		if crit == nil {
			continue
		}
		all = append(all, crit.ToConditions()...)
	}
	return all
}

// ---------------- Helpers ----------------

// And crea un CompositeCriteria con operador AND
func And(criterias ...Criteria) CompositeCriteria {
	return CompositeCriteria{Operator: OpAnd, Criterias: criterias}
}

func Eq(field string, value interface{}) Criterion {
	return Criterion{Field: field, Op: OpEq, Value: value}
}

func In(field string, values ...interface{}) Criterion {
	return Criterion{Field: field, Op: OpIn, Value: values}
}
