package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
	qrcode "github.com/skip2/go-qrcode"
)

// AuthView shows the pairing QR code.
type AuthView struct {
	*tview.TextView
}

func NewAuthView() *AuthView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true).SetTitle(" Collega WhatsApp ")
	return &AuthView{TextView: tv}
}

// ShowQR draws token with the attempt counter below it.
func (av *AuthView) ShowQR(token string, attempt, maxAttempts int) {
	av.Clear()
	_, _ = fmt.Fprintf(av, "\nInquadra il codice con WhatsApp sul telefono:\n\n%s\n[::d]tentativo %d/%d[::-]",
		RenderQR(token), attempt, maxAttempts)
}

func (av *AuthView) ShowMessage(msg string) {
	av.Clear()
	_, _ = fmt.Fprintf(av, "\n\n%s", tview.Escape(msg))
}

// RenderQR draws token as text, packing two module rows into one line with
// half-block characters.
func RenderQR(token string) string {
	qr, err := qrcode.New(token, qrcode.Low)
	if err != nil {
		return "(QR non disponibile: " + err.Error() + ")"
	}
	bitmap := qr.Bitmap()

	var b strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bottom := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bottom:
				b.WriteRune('█')
			case top:
				b.WriteRune('▀')
			case bottom:
				b.WriteRune('▄')
			default:
				b.WriteRune(' ')
			}
		}
		b.WriteRune('\n')
	}
	return b.String()
}
