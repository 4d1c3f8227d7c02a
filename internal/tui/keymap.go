package tui

// Key binding constants used in handleKey.
const (
	KeyQuit      = "q"
	KeyQuitUpper = "Q"
	KeyCtrlC     = "ctrl+c"
	KeySpace     = " "
	KeyEnd       = "e"
	KeyEndUpper  = "E"
	KeyPause     = "p"
	KeyPauseUp   = "P"
	KeyUp        = "up"
	KeyDown      = "down"
	KeyK         = "k"
	KeyJ         = "j"
)
