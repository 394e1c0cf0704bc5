package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/brensch/jsonlpack/internal/orchestrator"
	"github.com/brensch/jsonlpack/internal/walker"
)

var (
	titleStyle              = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	menuStyle               = lipgloss.NewStyle().PaddingLeft(2)
	selectedStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("79"))
	errorStyle              = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle               = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressBarStyle        = lipgloss.NewStyle().Padding(0, 1)
	fileProgressHeaderStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	stageStyle              = map[orchestrator.Stage]lipgloss.Style{
		orchestrator.StageStart:     lipgloss.NewStyle().Foreground(lipgloss.Color("248")),
		orchestrator.StageExtract:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		orchestrator.StageSummarize: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		orchestrator.StageBundle:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		orchestrator.StageComplete:  lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		orchestrator.StageSkipped:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		orchestrator.StageError:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// RunFunc starts the walk for the selected window.
type RunFunc func(ctx context.Context, win walker.Window, progress chan<- orchestrator.Progress) (*orchestrator.Result, error)

// ResolveRange turns 1-based operator choices into a window. 0 means from the
// beginning for start and through the end for end. A non-zero end must not
// precede start.
func ResolveRange(folders []string, startIdx, endIdx int) (walker.Window, error) {
	var win walker.Window
	if startIdx < 0 || startIdx > len(folders) {
		return win, fmt.Errorf("start index %d out of range (0-%d)", startIdx, len(folders))
	}
	if endIdx < 0 || endIdx > len(folders) {
		return win, fmt.Errorf("end index %d out of range (0-%d)", endIdx, len(folders))
	}
	if endIdx != 0 && endIdx < startIdx {
		return win, fmt.Errorf("end index %d is before start index %d", endIdx, startIdx)
	}
	if startIdx > 0 {
		win.Start = folders[startIdx-1]
	}
	if endIdx > 0 {
		win.End = folders[endIdx-1]
	}
	return win, nil
}

// FolderProgress is the display state of one folder.
type FolderProgress struct {
	RelPath string
	Stage   orchestrator.Stage
	Archive string
	ErrMsg  string
	Start   time.Time
	Elapsed time.Duration
}

type outcome struct {
	mu     sync.Mutex
	result *orchestrator.Result
	err    error
	done   chan struct{}
}

type AppModel struct {
	Title   string
	State   AppState
	Window  walker.Window
	folders []string
	cursor  int
	startIx int

	run    RunFunc
	ctx    context.Context
	cancel context.CancelFunc
	out    *outcome

	spinner          spinner.Model
	overallProgress  progress.Model
	progressBarWidth int

	folderProgress map[string]*FolderProgress
	folderOrder    []string
	foldersDone    int
	foldersTotal   int
	lastActivity   string
	taskStartTime  time.Time
	finished       *TaskFinishedMsg

	inputError string
	lastError  error
	Selected   bool
	Quitting   bool

	termWidth  int
	termHeight int

	uiMsgChan chan tea.Msg
}

// NewAppModel lists folders for selection and, once a window is chosen,
// calls run with it. A nil run only collects the selection.
func NewAppModel(ctx context.Context, folders []string, run RunFunc) *AppModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	runCtx, cancel := context.WithCancel(ctx)

	return &AppModel{
		Title:           "--- jsonlpack ---",
		State:           SelectStart,
		folders:         folders,
		run:             run,
		ctx:             runCtx,
		cancel:          cancel,
		spinner:         s,
		overallProgress: progress.New(progress.WithDefaultGradient()),
		folderProgress:  make(map[string]*FolderProgress),
		termWidth:       80,
		termHeight:      24,
	}
}

func (m *AppModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch m.State {
		case SelectStart, SelectEnd:
			cmds = append(cmds, m.handleSelectKey(msg))
		case Running:
			if msg.String() == "ctrl+c" || msg.String() == "q" {
				m.cancel()
				m.Quitting = true
				m.State = Exiting
				return m, tea.Quit
			}
		case Done, ShowError:
			switch msg.String() {
			case "enter", "esc", "q", "ctrl+c":
				m.State = Exiting
				return m, tea.Quit
			}
		case Exiting:
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		m.progressBarWidth = max(0, m.termWidth-4)
		m.overallProgress.Width = m.progressBarWidth
	case ProgressMsg:
		m.applyProgress(msg.Progress)
		if msg.Final() && msg.Total > 0 {
			cmds = append(cmds, m.overallProgress.SetPercent(float64(msg.Done)/float64(msg.Total)))
		}
		cmds = append(cmds, m.waitForActivityCmd(m.uiMsgChan))
	case TaskFinishedMsg:
		m.finished = &msg
		m.uiMsgChan = nil
		if msg.Err != nil {
			m.lastError = fmt.Errorf("run stopped: %w", msg.Err)
			m.State = ShowError
		} else {
			m.State = Done
		}
	case GeneralErrorMsg:
		m.lastError = msg.Err
		m.State = ShowError
		m.uiMsgChan = nil
	case spinner.TickMsg:
		if m.State == Running {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	case progress.FrameMsg:
		if m.State == Running {
			progModel, frameCmd := m.overallProgress.Update(msg)
			if newModel, ok := progModel.(progress.Model); ok {
				m.overallProgress = newModel
				cmds = append(cmds, frameCmd)
			}
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *AppModel) applyProgress(p orchestrator.Progress) {
	fp, ok := m.folderProgress[p.RelPath]
	if !ok {
		fp = &FolderProgress{RelPath: p.RelPath, Start: time.Now()}
		m.folderProgress[p.RelPath] = fp
		m.folderOrder = append(m.folderOrder, p.RelPath)
	}
	fp.Stage = p.Stage
	if p.Archive != "" {
		fp.Archive = fmt.Sprintf("%s (%d/%d)", p.Archive, p.Done, p.Total)
	}
	if p.Err != nil {
		fp.ErrMsg = p.Err.Error()
	}
	if p.Final() {
		fp.Elapsed = time.Since(fp.Start)
		m.foldersDone = p.Done
		m.foldersTotal = p.Total
	}
	m.lastActivity = p.RelPath
}

func (m *AppModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.Title))
	b.WriteString("\n\n")

	switch m.State {
	case SelectStart, SelectEnd:
		b.WriteString(m.viewSelect())
	case Running:
		b.WriteString(m.viewProgress())
	case Done:
		b.WriteString(m.viewDone())
	case ShowError:
		b.WriteString(m.viewError())
	case Exiting:
		b.WriteString(infoStyle.Render("Exiting..."))
	}

	b.WriteString("\n\n")
	switch m.State {
	case SelectStart, SelectEnd:
		b.WriteString(infoStyle.Render("Use up/down arrows and Enter to select. Esc goes back. 'q' or Ctrl+C to quit."))
	case Running:
		b.WriteString(infoStyle.Render("Run in progress... 'q' or Ctrl+C to stop after the current archive."))
	case Done, ShowError:
		b.WriteString(infoStyle.Render("Press Enter, Esc or 'q' to exit."))
	}
	return b.String()
}

func (m *AppModel) choices() []string {
	first := "0. (from the beginning)"
	if m.State == SelectEnd {
		first = "0. (through the end)"
	}
	out := []string{first}
	for i, f := range m.folders {
		out = append(out, fmt.Sprintf("%d. %s", i+1, f))
	}
	return out
}

func (m *AppModel) viewSelect() string {
	var b strings.Builder
	if m.State == SelectStart {
		b.WriteString("Select the folder to start from:\n")
	} else {
		fmt.Fprintf(&b, "Start: %s\nSelect the last folder to process:\n", m.startLabel())
	}

	choices := m.choices()
	maxLines := max(1, m.termHeight-10)
	first := 0
	if m.cursor >= maxLines {
		first = m.cursor - maxLines + 1
	}
	for i := first; i < len(choices) && i < first+maxLines; i++ {
		var line string
		if m.cursor == i {
			line = "> " + selectedStyle.Render(choices[i])
		} else {
			line = "  " + choices[i]
		}
		b.WriteString(menuStyle.Render(line))
		b.WriteString("\n")
	}
	if m.inputError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.inputError))
	}
	return b.String()
}

func (m *AppModel) startLabel() string {
	if m.startIx == 0 {
		return "(from the beginning)"
	}
	return m.folders[m.startIx-1]
}

func (m *AppModel) viewProgress() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Processing: %s\n", m.spinner.View(), m.lastActivity)
	b.WriteString(progressBarStyle.Render(m.overallProgress.View()))
	fmt.Fprintf(&b, " (%d/%d folders)\n\n", m.foldersDone, m.foldersTotal)

	maxLines := max(1, m.termHeight-10)
	startIdx := 0
	if len(m.folderOrder) > maxLines {
		startIdx = len(m.folderOrder) - maxLines
	}
	if len(m.folderOrder) == 0 {
		return b.String()
	}

	b.WriteString(fileProgressHeaderStyle.Render(fmt.Sprintf("%-40s | %-12s | %s", "Folder", "Stage", "Elapsed")))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", m.termWidth))
	b.WriteString("\n")
	for _, rel := range m.folderOrder[startIdx:] {
		fp := m.folderProgress[rel]
		style, ok := stageStyle[fp.Stage]
		if !ok {
			style = infoStyle
		}
		elapsed := ""
		if fp.Elapsed > 0 {
			elapsed = fp.Elapsed.Round(time.Millisecond).String()
		} else {
			elapsed = time.Since(fp.Start).Round(time.Second).String() + "..."
			if fp.Stage == orchestrator.StageExtract && fp.Archive != "" {
				elapsed += " " + fp.Archive
			}
		}
		b.WriteString(fmt.Sprintf("%s | %-12s | %s", padRight(truncate(rel, 40), 40), style.Render(string(fp.Stage)), elapsed))
		if fp.ErrMsg != "" {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(truncate("  -> Error: "+fp.ErrMsg, m.termWidth-1)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *AppModel) viewDone() string {
	var b strings.Builder
	b.WriteString(selectedStyle.Render("Run finished."))
	b.WriteString("\n\n")
	if m.finished == nil || m.finished.Result == nil {
		return b.String()
	}
	res := m.finished.Result
	var failed, skipped int
	var bytes int64
	for _, f := range res.Folders {
		switch {
		case f.Err != nil:
			failed++
		case f.Skipped:
			skipped++
		}
		bytes += f.BundleBytes
	}
	fmt.Fprintf(&b, "Folders:  %d (%d skipped, %d with errors)\n", len(res.Folders), skipped, failed)
	fmt.Fprintf(&b, "Records:  %s\n", humanize.Comma(res.Records()))
	fmt.Fprintf(&b, "Bundled:  %s\n", humanize.Bytes(uint64(bytes)))
	fmt.Fprintf(&b, "Duration: %s\n", m.finished.EndTime.Sub(m.finished.StartTime).Round(time.Millisecond))
	if res.Err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(wrapText(res.Err.Error(), m.termWidth-4)))
	}
	return b.String()
}

func (m *AppModel) viewError() string {
	var b strings.Builder
	b.WriteString(errorStyle.Render("An error occurred:"))
	b.WriteString("\n\n")
	if m.lastError != nil {
		b.WriteString(wrapText(m.lastError.Error(), m.termWidth-4))
	} else {
		b.WriteString("Unknown error.")
	}
	b.WriteString("\n")
	return b.String()
}

func (m *AppModel) handleSelectKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.folders) {
			m.cursor++
		}
	case "esc":
		if m.State == SelectEnd {
			m.State = SelectStart
			m.cursor = m.startIx
			m.inputError = ""
		}
	case "enter":
		m.inputError = ""
		if m.State == SelectStart {
			m.startIx = m.cursor
			m.State = SelectEnd
			m.cursor = 0
			return nil
		}
		win, err := ResolveRange(m.folders, m.startIx, m.cursor)
		if err != nil {
			m.inputError = err.Error()
			return nil
		}
		m.Window = win
		m.Selected = true
		if m.run == nil {
			m.State = Exiting
			return tea.Quit
		}
		m.State = Running
		m.taskStartTime = time.Now()
		return tea.Batch(m.startRunTask(), m.spinner.Tick)
	case "ctrl+c", "q":
		m.Quitting = true
		m.State = Exiting
		return tea.Quit
	}
	return nil
}

func (m *AppModel) waitForActivityCmd(uiMsgChan chan tea.Msg) tea.Cmd {
	if uiMsgChan == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-uiMsgChan
		if !ok {
			return nil
		}
		return msg
	}
}

// startRunTask launches the run in the background and forwards its progress
// to the UI. Sends are abandoned once the run context is cancelled.
func (m *AppModel) startRunTask() tea.Cmd {
	uiMsgChan := make(chan tea.Msg)
	m.uiMsgChan = uiMsgChan
	m.out = &outcome{done: make(chan struct{})}
	ctx, win, out, start := m.ctx, m.Window, m.out, m.taskStartTime

	send := func(msg tea.Msg) {
		select {
		case uiMsgChan <- msg:
		case <-ctx.Done():
		}
	}

	progressChan := make(chan orchestrator.Progress)
	translated := make(chan struct{})
	go func() {
		defer close(translated)
		for p := range progressChan {
			send(ProgressMsg{p})
		}
	}()

	go func() {
		var res *orchestrator.Result
		var err error
		var panicked bool
		func() {
			defer close(progressChan)
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("run panicked: %v", r)
					panicked = true
				}
			}()
			res, err = m.run(ctx, win, progressChan)
		}()
		<-translated
		out.set(res, err)
		if panicked {
			send(NewError(err))
			return
		}
		send(NewTaskFinished(res, start, err))
	}()

	return m.waitForActivityCmd(uiMsgChan)
}

func (o *outcome) set(res *orchestrator.Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	select {
	case <-o.done:
		return
	default:
	}
	o.result, o.err = res, err
	close(o.done)
}

// Wait blocks until a started run returns and reports its outcome. It returns
// nil, nil when no run was started.
func (m *AppModel) Wait() (*orchestrator.Result, error) {
	if m.out == nil {
		return nil, nil
	}
	<-m.out.done
	m.out.mu.Lock()
	defer m.out.mu.Unlock()
	return m.out.result, m.out.err
}

// Close cancels a run that is still in progress.
func (m *AppModel) Close() {
	m.cancel()
}

// Interrupted reports whether the operator quit before or during the run.
func (m *AppModel) Interrupted() bool {
	return m.Quitting
}

// ErrNoSelection is returned when the operator quits without choosing a window.
var ErrNoSelection = errors.New("no folder range selected")

// truncate shortens s to n terminal cells, so wide runes are never split.
func truncate(s string, n int) string {
	if n <= 3 || ansi.StringWidth(s) <= n {
		return s
	}
	return ansi.Truncate(s, n, "...")
}

// padRight pads s with spaces to n terminal cells.
func padRight(s string, n int) string {
	if w := ansi.StringWidth(s); w < n {
		return s + strings.Repeat(" ", n-w)
	}
	return s
}

func wrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}
	var result strings.Builder
	var currentLine strings.Builder
	for _, word := range strings.Fields(text) {
		if currentLine.Len() > 0 && currentLine.Len()+len(word)+1 > maxWidth {
			result.WriteString(currentLine.String())
			result.WriteString("\n")
			currentLine.Reset()
		}
		if currentLine.Len() > 0 {
			currentLine.WriteString(" ")
		}
		currentLine.WriteString(word)
	}
	result.WriteString(currentLine.String())
	return result.String()
}
