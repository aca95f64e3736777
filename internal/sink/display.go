package sink

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	lcdColumns = 16
	lcdRows    = 2
)

// Display is a one-way text sink.
type Display interface {
	Show(text string) error
}

// LCD renders text as a 16x2 character frame on w.
// Lines beyond the second are dropped and long lines are cut.
type LCD struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLCD(w io.Writer) *LCD {
	return &LCD{w: w}
}

func (l *LCD) Show(text string) error {
	frame := Frame(text)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := io.WriteString(l.w, "+"+strings.Repeat("-", lcdColumns)+"+\n"+
		"|"+frame[0]+"|\n"+
		"|"+frame[1]+"|\n"+
		"+"+strings.Repeat("-", lcdColumns)+"+\n")
	return err
}

// Frame fits text into the LCD rows, padding with spaces.
func Frame(text string) [lcdRows]string {
	var out [lcdRows]string
	lines := strings.Split(text, "\n")
	for i := 0; i < lcdRows; i++ {
		line := ""
		if i < len(lines) {
			line = lines[i]
		}
		r := []rune(line)
		if len(r) > lcdColumns {
			r = r[:lcdColumns]
		}
		out[i] = string(r) + strings.Repeat(" ", lcdColumns-len(r))
	}
	return out
}

// TickText is the per-tick status shown on the display.
func TickText(generationKWh, demandKWh, soc float64) string {
	return fmt.Sprintf("G%.2f D%.2fkWh\nBat: %.1f%%", generationKWh, demandKWh, soc*100)
}
