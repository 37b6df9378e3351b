package webdriver

// keyCodepoints maps Selenium IDE key names (the NAME in ${KEY_NAME}) to
// the W3C keyboard codepoints understood by element value posts.
var keyCodepoints = map[string]string{
	"NULL":        "",
	"CANCEL":      "",
	"HELP":        "",
	"BACKSPACE":   "",
	"BACK_SPACE":  "",
	"TAB":         "",
	"CLEAR":       "",
	"RETURN":      "",
	"ENTER":       "",
	"SHIFT":       "",
	"CONTROL":     "",
	"CTRL":        "",
	"ALT":         "",
	"PAUSE":       "",
	"ESCAPE":      "",
	"ESC":         "",
	"SPACE":       "",
	"PAGE_UP":     "",
	"PGUP":        "",
	"PAGE_DOWN":   "",
	"PGDN":        "",
	"END":         "",
	"HOME":        "",
	"LEFT":        "",
	"ARROW_LEFT":  "",
	"UP":          "",
	"ARROW_UP":    "",
	"RIGHT":       "",
	"ARROW_RIGHT": "",
	"DOWN":        "",
	"ARROW_DOWN":  "",
	"INSERT":      "",
	"DELETE":      "",
	"DEL":         "",
	"SEMICOLON":   "",
	"EQUALS":      "",
	"F1":          "",
	"F2":          "",
	"F3":          "",
	"F4":          "",
	"F5":          "",
	"F6":          "",
	"F7":          "",
	"F8":          "",
	"F9":          "",
	"F10":         "",
	"F11":         "",
	"F12":         "",
}

// Key returns the codepoint for a special key name such as "ENTER" or
// "TAB". ok is false when the name is not a known key.
func Key(name string) (string, bool) {
	cp, ok := keyCodepoints[name]
	return cp, ok
}
