package sqlite

import "strings"

// projectScopeClause builds a "<column> IN (?, ?, ...)" fragment restricted
// to scope, appending each member to args in order. Ordinary single-project
// calls pass a one-element scope; cross-access-granted reads (spec.md
// §4.4) pass the caller's whole scope set so a query can return rows owned
// by any project the caller may read from, in one round trip, rather than
// fetching a single project's rows and filtering afterward.
//
// An empty scope can never match any row: the clause degrades to a literal
// false rather than producing invalid "IN ()" SQL.
func projectScopeClause(column string, scope []string, args *[]any) string {
	if len(scope) == 0 {
		return "1 = 0"
	}
	placeholders := make([]string, len(scope))
	for i, p := range scope {
		placeholders[i] = "?"
		*args = append(*args, p)
	}
	return column + " IN (" + strings.Join(placeholders, ",") + ")"
}
