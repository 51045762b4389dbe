package db

import "strings"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern builds a LIKE pattern matching term literally anywhere
// in a value. Use it with ESCAPE '\'.
func ContainsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}
