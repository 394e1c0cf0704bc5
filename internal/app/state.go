package app

// AppState represents the different views/modes of the application.
type AppState int

const (
	SelectStart AppState = iota
	SelectEnd
	Running
	Done
	ShowError
	Exiting
)
