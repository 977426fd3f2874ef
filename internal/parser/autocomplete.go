package parser

// Trigger describes an open, unterminated [[ span ending at the cursor.
// Offsets are in runes.
type Trigger struct {
	Query string
	Start int // index of the first '[' of the opening pair
	End   int // cursor position
}

// DetectTrigger reports whether cursor sits inside an open [[... span: the
// last "[[" before the cursor followed only by characters other than ']'
// and newline. cursor is a rune offset and is clamped to the text.
func DetectTrigger(text string, cursor int) (Trigger, bool) {
	runes := []rune(text)
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(runes) {
		cursor = len(runes)
	}
	for i := cursor - 1; i >= 0; i-- {
		switch runes[i] {
		case ']', '\n':
			return Trigger{}, false
		case '[':
			if i > 0 && runes[i-1] == '[' {
				return Trigger{
					Query: string(runes[i+1 : cursor]),
					Start: i - 1,
					End:   cursor,
				}, true
			}
		}
	}
	return Trigger{}, false
}

// InsertLink replaces the trigger span with [[title]] and returns the new
// text and the rune cursor placed right after the closing brackets. Text
// outside the span is left untouched.
func InsertLink(text string, tr Trigger, title string) (string, int) {
	runes := []rune(text)
	start, end := tr.Start, tr.End
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start > end {
		start = end
	}
	link := []rune("[[" + title + "]]")
	out := make([]rune, 0, len(runes)-(end-start)+len(link))
	out = append(out, runes[:start]...)
	out = append(out, link...)
	out = append(out, runes[end:]...)
	return string(out), start + len(link)
}
