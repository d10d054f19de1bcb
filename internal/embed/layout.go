package embed

// Destination is a sidebar navigation target.
type Destination string

const (
	DestHome    Destination = "home"
	DestTTS     Destination = "tts"
	DestLexicon Destination = "lexicon"
)

// Layout is the portal shell: landing page, sidebar and the active app panel.
type Layout struct {
	Active         AppID
	LandingVisible bool
	SidebarVisible bool
	Collapsed      bool
}

// NewLayout starts on the landing page.
func NewLayout() *Layout {
	return &Layout{LandingVisible: true}
}

// Launch opens app from the landing page: the sidebar appears and the landing page goes away.
func (l *Layout) Launch(app AppID) {
	if app != AppTTS && app != AppLexicon {
		return
	}
	l.SidebarVisible = true
	l.LandingVisible = false
	l.Navigate(Destination(app))
}

// Navigate switches panels from the sidebar. Home returns to the landing page.
func (l *Layout) Navigate(dest Destination) {
	switch dest {
	case DestHome:
		l.Active = AppNone
		l.LandingVisible = true
		l.SidebarVisible = false
	case DestTTS:
		l.Active = AppTTS
	case DestLexicon:
		l.Active = AppLexicon
	}
}

// ToggleCollapse flips the sidebar between full and icon-only width.
func (l *Layout) ToggleCollapse() {
	l.Collapsed = !l.Collapsed
}
