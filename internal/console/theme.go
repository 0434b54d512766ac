package console

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Theme holds the console colors.
type Theme struct {
	Bg          tcell.Color
	Fg          tcell.Color
	Border      tcell.Color
	Title       tcell.Color
	Key         tcell.Color
	StatusBg    tcell.Color
	PromptColor tcell.Color
}

// DefaultTheme is a dark theme close to the CRM's green accents.
func DefaultTheme() *Theme {
	return &Theme{
		Bg:          tcell.ColorBlack,
		Fg:          tcell.ColorWhiteSmoke,
		Border:      tcell.ColorSeaGreen,
		Title:       tcell.ColorLightGreen,
		Key:         tcell.ColorMediumSeaGreen,
		StatusBg:    tcell.ColorDarkSlateGray,
		PromptColor: tcell.ColorSeaGreen,
	}
}

// Apply sets the tview defaults from t.
func (t *Theme) Apply() {
	tview.Styles.PrimitiveBackgroundColor = t.Bg
	tview.Styles.PrimaryTextColor = t.Fg
	tview.Styles.BorderColor = t.Border
	tview.Styles.TitleColor = t.Title
	tview.Styles.MoreContrastBackgroundColor = t.StatusBg
	tview.Styles.SecondaryTextColor = t.Key
}
