package rowflow

import "strings"

// tokenizer splits single lines into fields.
// Fields cannot contain line breaks; every line is parsed on its own.
type tokenizer struct {
	delimiter rune
	quote     rune // 0 disables quoting
	escape    rune // 0 or equal to quote means quotes are escaped by doubling
}

// split returns the fields of line. ok is false when a quoted field is still open at the end.
func (t tokenizer) split(line string) (fields []string, ok bool) {
	runes := []rune(line)
	var field strings.Builder
	inQuotes := false

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if inQuotes {
			switch {
			case t.escape != 0 && t.escape != t.quote && r == t.escape && i+1 < len(runes) && runes[i+1] == t.quote:
				field.WriteRune(t.quote)
				i++
			case r == t.quote:
				if i+1 < len(runes) && runes[i+1] == t.quote {
					field.WriteRune(t.quote)
					i++
					continue
				}
				inQuotes = false
			default:
				field.WriteRune(r)
			}
			continue
		}

		switch {
		case t.quote != 0 && r == t.quote:
			inQuotes = true
		case r == t.delimiter:
			fields = append(fields, field.String())
			field.Reset()
		default:
			field.WriteRune(r)
		}
	}

	fields = append(fields, field.String())
	return fields, !inQuotes
}

// TokenizeLine splits one line into fields. A quote toggles quote mode, a doubled quote inside
// quote mode is one literal quote, and a delimiter inside quote mode does not split.
// An unterminated quoted field runs to the end of the line.
func TokenizeLine(line string, delimiter, quote rune) []string {
	fields, _ := tokenizer{delimiter: delimiter, quote: quote}.split(line)
	return fields
}

// countOutsideQuotes counts occurrences of delimiter that would split line
func countOutsideQuotes(line string, delimiter, quote rune) int {
	n := 0
	inQuotes := false
	for _, r := range line {
		switch {
		case r == quote:
			inQuotes = !inQuotes
		case r == delimiter && !inQuotes:
			n++
		}
	}
	return n
}
