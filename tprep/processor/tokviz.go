package processor

import (
	"fmt"
	"io"

	"github.com/ZanzyTHEbar/trainprep/tprep/tokenizer"

	"github.com/fatih/color"
)

// tokenPalette cycles background colors by token position so adjacent
// tokens stay visually distinct.
var tokenPalette = []*color.Color{
	color.New(color.BgRed),
	color.New(color.BgGreen),
	color.New(color.BgBlue),
	color.New(color.BgYellow),
	color.New(color.BgMagenta),
}

// DumpTokens decodes each token individually and writes it to w with a
// background color cycling through the palette. A debugging aid for
// inspecting tokenization boundaries.
func DumpTokens(w io.Writer, tokens []int, tok tokenizer.Tokenizer) error {
	for i, id := range tokens {
		if _, err := tokenPalette[i%len(tokenPalette)].Fprint(w, tok.Decode(id)); err != nil {
			return fmt.Errorf("failed to write token %d: %w", i, err)
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	return nil
}
