package db

// Op is a filter comparison.
type Op int

const (
	OpEq Op = iota
	OpIn
)

// Cond is one column condition. Eq conditions carry exactly one value.
type Cond struct {
	Column string
	Op     Op
	Values []any
}

// Filter is a conjunction of conditions.
type Filter []Cond

// Eq matches rows whose column equals v.
func Eq(column string, v any) Cond {
	return Cond{Column: column, Op: OpEq, Values: []any{v}}
}

// In matches rows whose column is one of vs.
func In(column string, vs ...any) Cond {
	return Cond{Column: column, Op: OpIn, Values: vs}
}

// Where builds a Filter.
func Where(conds ...Cond) Filter {
	return Filter(conds)
}

// Order sorts by one column.
type Order struct {
	Column string
	Desc   bool
}

// Asc and Desc build orderings.
func Asc(column string) Order  { return Order{Column: column} }
func Desc(column string) Order { return Order{Column: column, Desc: true} }

// Query is a filtered, ordered select. Limit 0 means no limit.
type Query struct {
	Filter Filter
	Order  []Order
	Limit  int
}
